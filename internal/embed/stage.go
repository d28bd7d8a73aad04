package embed

import (
	"context"
	"log/slog"
	"strings"

	"nexus/internal/catalog"
	"nexus/internal/logging"
	"nexus/internal/services"
	"nexus/internal/stage"
)

const stageName = "embed"

// Stage attaches an embedding vector to the media item. Like enrich, the
// pipeline degrades gracefully when this stage fails for good.
type Stage struct {
	embedder Embedder
	logger   *slog.Logger
}

// NewStage builds the embed stage.
func NewStage(embedder Embedder, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Stage{
		embedder: embedder,
		logger:   logging.NewComponentLogger(logger, stageName),
	}
}

// Prepare verifies there is text to embed.
func (s *Stage) Prepare(ctx context.Context, job *catalog.Job, item *catalog.MediaItem) error {
	if embeddingInput(item) == "" {
		return services.Wrap(services.ErrPermanent, stageName, "prepare",
			"media item has no text to embed", nil)
	}
	return nil
}

// Execute computes and stores the embedding vector.
func (s *Stage) Execute(ctx context.Context, job *catalog.Job, item *catalog.MediaItem) error {
	job.SetProgress("Embedding", 90)

	vector, err := s.embedder.Embed(ctx, embeddingInput(item))
	if err != nil {
		return err
	}
	if err := item.SetEmbedding(vector); err != nil {
		return services.Wrap(services.ErrPermanent, stageName, "encode vector",
			"failed to serialize embedding", err)
	}

	s.logger.Info("embedding complete",
		logging.String(logging.FieldMediaID, item.ID),
		logging.Int("dimension", len(vector)))
	return nil
}

// HealthCheck reports stage readiness.
func (s *Stage) HealthCheck(ctx context.Context) stage.Health {
	if s.embedder == nil {
		return stage.Unhealthy(stageName, "no embedder configured")
	}
	return stage.Healthy(stageName)
}

// maxEmbedInputChars caps the text sent to the embedding model; transcripts
// can run far past any model's context window.
const maxEmbedInputChars = 8000

// embeddingInput combines summary and transcript so the vector represents
// both; when enrichment degraded, the transcript alone still carries the
// content. The summary leads so truncation only ever trims transcript tail.
func embeddingInput(item *catalog.MediaItem) string {
	summary := strings.TrimSpace(item.Summary)
	transcript := strings.TrimSpace(item.Transcript)

	combined := summary
	if transcript != "" {
		if combined != "" {
			combined += "\n\n"
		}
		combined += transcript
	}
	if len(combined) > maxEmbedInputChars {
		combined = combined[:maxEmbedInputChars]
	}
	return combined
}
