package extract

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"nexus/internal/blob"
	"nexus/internal/catalog"
	"nexus/internal/config"
	"nexus/internal/logging"
	"nexus/internal/services"
	"nexus/internal/stage"
)

const stageName = "extract"

// Stage acquires the media payload for a job and leaves it in the blob store
// with a fingerable local representation, a title, and a duration.
type Stage struct {
	downloader Downloader
	prober     Prober
	blobs      *blob.Store
	tempDir    string
	logger     *slog.Logger
}

// NewStage builds the extract stage from configuration.
func NewStage(cfg *config.Config, blobs *blob.Store, logger *slog.Logger) *Stage {
	return &Stage{
		downloader: NewYtDlp(cfg.Extract.DownloaderBinary),
		prober:     NewFFProbe(cfg.Extract.ProbeBinary),
		blobs:      blobs,
		tempDir:    cfg.Paths.TempDir,
		logger:     logging.NewComponentLogger(logger, stageName),
	}
}

// NewStageWith builds the stage with explicit collaborators for tests.
func NewStageWith(downloader Downloader, prober Prober, blobs *blob.Store, tempDir string, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Stage{
		downloader: downloader,
		prober:     prober,
		blobs:      blobs,
		tempDir:    tempDir,
		logger:     logger,
	}
}

// Prepare validates that the job has something to extract.
func (s *Stage) Prepare(ctx context.Context, job *catalog.Job, item *catalog.MediaItem) error {
	if strings.TrimSpace(item.SourceURL) == "" && strings.TrimSpace(item.BlobKey) == "" {
		return services.Wrap(services.ErrPermanent, stageName, "prepare",
			"media item has neither a source URL nor an uploaded payload", nil)
	}
	return nil
}

// Execute downloads remote sources, stores the payload as a blob, and fills
// in title and duration. Uploaded payloads already sit in the blob store and
// only need probing.
func (s *Stage) Execute(ctx context.Context, job *catalog.Job, item *catalog.MediaItem) error {
	item.Status = catalog.MediaProcessing
	job.SetProgress("Extracting", 10)

	if item.BlobKey == "" {
		result, err := s.downloader.Fetch(ctx, item.SourceURL, s.tempDir)
		if err != nil {
			return services.Wrap(services.ErrTransient, stageName, "download",
				"failed to fetch source", err)
		}
		defer func() { _ = os.Remove(result.LocalPath) }()

		key, err := s.blobs.PutFile(ctx, result.LocalPath)
		if err != nil {
			return services.Wrap(services.ErrTransient, stageName, "store blob",
				"failed to persist downloaded payload", err)
		}
		item.BlobKey = key
		if item.Title == "" {
			if result.Title != "" {
				item.Title = DeriveTitle(result.Title)
			} else {
				item.Title = DeriveTitle(item.SourceURL)
			}
		}
		if result.DurationSeconds > 0 {
			item.DurationSeconds = result.DurationSeconds
		}
	}

	if item.DurationSeconds <= 0 && s.prober != nil {
		path, err := s.blobs.Path(item.BlobKey)
		if err != nil {
			return services.Wrap(services.ErrPermanent, stageName, "locate blob",
				"stored payload disappeared", err)
		}
		duration, err := s.prober.Duration(ctx, path)
		if err != nil {
			// Duration is advisory; a probe failure should not sink the job.
			s.logger.Warn("duration probe failed",
				logging.String(logging.FieldMediaID, item.ID),
				logging.Error(err))
		} else {
			item.DurationSeconds = duration
		}
	}

	if item.Title == "" {
		item.Title = DeriveTitle(item.SourceURL)
	}

	job.SetProgress("Extracting", 20)
	s.logger.Info("payload extracted",
		logging.String(logging.FieldMediaID, item.ID),
		logging.String("blob_key", item.BlobKey),
		logging.Float64("duration_seconds", item.DurationSeconds))
	return nil
}

// HealthCheck verifies the external tools the stage depends on.
func (s *Stage) HealthCheck(ctx context.Context) stage.Health {
	if dl, ok := s.downloader.(*YtDlp); ok && !dl.Available() {
		return stage.Unhealthy(stageName, "yt-dlp binary not found; URL submissions will fail")
	}
	return stage.Healthy(stageName)
}
