package transcribe

import (
	"context"
	"log/slog"

	"nexus/internal/blob"
	"nexus/internal/catalog"
	"nexus/internal/config"
	"nexus/internal/logging"
	"nexus/internal/services"
	"nexus/internal/stage"
)

const stageName = "transcribe"

// Stage runs transcription for a job and stores the transcript plus segments
// on the media item.
type Stage struct {
	client Client
	blobs  *blob.Store
	logger *slog.Logger
}

// NewStage builds the transcribe stage from configuration.
func NewStage(cfg *config.Config, blobs *blob.Store, logger *slog.Logger) *Stage {
	client := NewHTTPClient(cfg.Transcriber.URL, cfg.Transcriber.Model, cfg.Transcriber.TimeoutSeconds)
	return NewStageWith(client, blobs, logger)
}

// NewStageWith builds the stage with an explicit client for tests.
func NewStageWith(client Client, blobs *blob.Store, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Stage{
		client: client,
		blobs:  blobs,
		logger: logging.NewComponentLogger(logger, stageName),
	}
}

// Prepare verifies the payload exists.
func (s *Stage) Prepare(ctx context.Context, job *catalog.Job, item *catalog.MediaItem) error {
	if item.BlobKey == "" {
		return services.Wrap(services.ErrPermanent, stageName, "prepare",
			"media item has no stored payload to transcribe", nil)
	}
	return nil
}

// Execute transcribes the payload and records the outputs on the item.
func (s *Stage) Execute(ctx context.Context, job *catalog.Job, item *catalog.MediaItem) error {
	job.SetProgress("Transcribing", 50)

	path, err := s.blobs.Path(item.BlobKey)
	if err != nil {
		return services.Wrap(services.ErrPermanent, stageName, "locate blob",
			"stored payload disappeared", err)
	}

	result, err := s.client.Transcribe(ctx, path)
	if err != nil {
		return err
	}

	item.Transcript = result.Text
	if err := item.SetSegments(result.Segments); err != nil {
		return services.Wrap(services.ErrPermanent, stageName, "encode segments",
			"failed to serialize transcript segments", err)
	}

	job.SetProgress("Transcribing", 70)
	s.logger.Info("transcription complete",
		logging.String(logging.FieldMediaID, item.ID),
		logging.Int("segments", len(result.Segments)),
		logging.Int("transcript_chars", len(result.Text)))
	return nil
}

// HealthCheck pings the transcription server.
func (s *Stage) HealthCheck(ctx context.Context) stage.Health {
	pinger, ok := s.client.(interface{ Ping(context.Context) error })
	if !ok {
		return stage.Healthy(stageName)
	}
	if err := pinger.Ping(ctx); err != nil {
		return stage.Unhealthy(stageName, err.Error())
	}
	return stage.Healthy(stageName)
}
