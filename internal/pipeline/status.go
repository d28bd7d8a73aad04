package pipeline

import (
	"context"

	"nexus/internal/catalog"
	"nexus/internal/logging"
	"nexus/internal/stage"
)

// StatusSummary is a lightweight diagnostics snapshot of the pipeline.
type StatusSummary struct {
	Running     bool
	LastError   string
	LastJob     *catalog.Job
	JobStats    catalog.Stats
	StageHealth map[string]stage.Health
}

// Status collects the manager state, catalog counters, and per-stage health
// probes.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	running := m.running
	lastErr := m.lastErr
	lastJob := m.lastJob
	stages := make([]pipelineStage, len(m.stages))
	copy(stages, m.stages)
	m.mu.RUnlock()

	stats, err := m.store.JobStats(ctx)
	if err != nil {
		m.logger.Warn("failed to read job stats", logging.Error(err))
	}

	health := make(map[string]stage.Health, len(stages))
	for _, stg := range stages {
		if stg.handler == nil {
			continue
		}
		health[stg.name] = stg.handler.HealthCheck(ctx)
	}

	summary := StatusSummary{Running: running, JobStats: stats, StageHealth: health}
	if lastErr != nil {
		summary.LastError = lastErr.Error()
	}
	if lastJob != nil {
		cp := *lastJob
		summary.LastJob = &cp
	}
	return summary
}

// Healthy reports whether every configured stage passes its health probe.
func (s StatusSummary) Healthy() bool {
	for _, h := range s.StageHealth {
		if !h.Ready {
			return false
		}
	}
	return true
}
