package enrich

import (
	"context"
	"log/slog"

	"nexus/internal/catalog"
	"nexus/internal/logging"
	"nexus/internal/services"
	"nexus/internal/stage"
)

const stageName = "enrich"

// Stage attaches a summary and tags to the media item. The pipeline treats
// this stage as degradable: when it exhausts its retries the job continues
// with the enrichment fields left empty.
type Stage struct {
	enricher Enricher
	logger   *slog.Logger
}

// NewStage builds the enrich stage.
func NewStage(enricher Enricher, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Stage{
		enricher: enricher,
		logger:   logging.NewComponentLogger(logger, stageName),
	}
}

// Prepare verifies a transcript exists to enrich.
func (s *Stage) Prepare(ctx context.Context, job *catalog.Job, item *catalog.MediaItem) error {
	if item.Transcript == "" {
		return services.Wrap(services.ErrPermanent, stageName, "prepare",
			"media item has no transcript", nil)
	}
	return nil
}

// Execute runs the enrichment model and records the outputs.
func (s *Stage) Execute(ctx context.Context, job *catalog.Job, item *catalog.MediaItem) error {
	job.SetProgress("Enriching", 80)

	result, err := s.enricher.Enrich(ctx, item.Title, item.Transcript)
	if err != nil {
		return err
	}

	item.Summary = result.Summary
	if err := item.SetTags(result.Tags); err != nil {
		return services.Wrap(services.ErrPermanent, stageName, "encode tags",
			"failed to serialize tags", err)
	}

	s.logger.Info("enrichment complete",
		logging.String(logging.FieldMediaID, item.ID),
		logging.Int("tags", len(result.Tags)))
	return nil
}

// HealthCheck reports stage readiness.
func (s *Stage) HealthCheck(ctx context.Context) stage.Health {
	if s.enricher == nil {
		return stage.Unhealthy(stageName, "no enricher configured")
	}
	return stage.Healthy(stageName)
}
