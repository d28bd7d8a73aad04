package pipeline

import (
	"context"
	"errors"
	"time"

	"nexus/internal/logging"
)

// Start begins background processing. Jobs interrupted by a previous crash
// are reclaimed immediately: the daemon holds an exclusive instance lock, so
// any heartbeat on disk at startup belongs to a process that no longer runs.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("pipeline already running")
	}
	if len(m.stages) == 0 {
		m.mu.Unlock()
		return errors.New("pipeline stages not configured")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(1)
	m.mu.Unlock()

	if reclaimed, err := m.store.ReclaimStale(runCtx, time.Now()); err != nil {
		m.logger.Warn("startup reclaim failed; interrupted jobs may stay stuck",
			logging.Error(err),
			logging.String(logging.FieldEventType, "heartbeat_reclaim_failed"))
	} else if reclaimed > 0 {
		m.logger.Info("reclaimed interrupted jobs", logging.Int64("count", reclaimed))
	}

	go m.dispatch(runCtx)
	return nil
}

// Stop terminates background processing and waits for in-flight workers.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

// Running reports whether the dispatcher is active.
func (m *Manager) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// dispatch is the single claim loop: it waits for a free worker slot, takes
// the oldest unclaimed runnable job, stamps its heartbeat to claim it, and
// hands it to a worker goroutine. Claiming through one goroutine means no
// two workers can race for the same job.
func (m *Manager) dispatch(ctx context.Context) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		m.reclaimStale(ctx)

		select {
		case <-ctx.Done():
			return
		case m.slots <- struct{}{}:
		}

		job, err := m.store.NextRunnableJob(ctx)
		if err != nil {
			<-m.slots
			m.setLastError(err)
			m.logger.Error("failed to fetch next runnable job",
				logging.Error(err),
				logging.String(logging.FieldEventType, "queue_fetch_failed"),
				logging.String(logging.FieldErrorHint, "check catalog database access"))
			m.waitOrShutdown(ctx, m.errorRetry)
			continue
		}
		if job == nil {
			<-m.slots
			m.waitOrShutdown(ctx, m.pollInterval)
			continue
		}

		if err := m.store.UpdateHeartbeat(ctx, job.ID); err != nil {
			<-m.slots
			m.setLastError(err)
			m.logger.Error("failed to claim job",
				logging.String(logging.FieldJobID, job.ID),
				logging.Error(err))
			m.waitOrShutdown(ctx, m.errorRetry)
			continue
		}
		now := time.Now().UTC()
		job.LastHeartbeat = &now

		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			defer func() { <-m.slots }()
			m.processJob(ctx, job)
		}()
	}
}

// reclaimStale releases jobs whose heartbeat expired, making them runnable
// again at the stage they were interrupted in.
func (m *Manager) reclaimStale(ctx context.Context) {
	if m.hbTimeout <= 0 {
		return
	}
	cutoff := time.Now().Add(-m.hbTimeout)
	reclaimed, err := m.store.ReclaimStale(ctx, cutoff)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			m.logger.Warn("reclaim stale jobs failed; stuck jobs may remain",
				logging.Error(err),
				logging.String(logging.FieldEventType, "heartbeat_reclaim_failed"),
				logging.String(logging.FieldErrorHint, "check catalog database access"))
		}
		return
	}
	if reclaimed > 0 {
		m.logger.Info("reclaimed stale jobs", logging.Int64("count", reclaimed))
	}
}

func (m *Manager) waitOrShutdown(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
