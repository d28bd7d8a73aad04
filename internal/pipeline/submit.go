package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"nexus/internal/catalog"
	"nexus/internal/logging"
	"nexus/internal/services"
)

// Request describes a new piece of media to process. Exactly one of
// SourceURL or BlobKey must be set: remote media is downloaded by the
// extract stage, uploaded media already sits in the blob store.
type Request struct {
	SourceURL      string
	BlobKey        string
	Title          string
	Kind           catalog.MediaKind
	Origin         catalog.MediaOrigin
	SubscriptionID string
}

// Receipt identifies the catalog rows created for an accepted submission.
type Receipt struct {
	JobID   string
	MediaID string
}

// Submit validates a request, records the media item and its pending job,
// and announces the job to subscribers. The dispatcher picks the job up on
// its next poll.
func (m *Manager) Submit(ctx context.Context, req Request) (Receipt, error) {
	req.SourceURL = strings.TrimSpace(req.SourceURL)
	req.BlobKey = strings.TrimSpace(req.BlobKey)
	req.Title = strings.TrimSpace(req.Title)

	if req.SourceURL == "" && req.BlobKey == "" {
		return Receipt{}, services.Wrap(services.ErrInvalidRequest, "submit", "validate",
			"a source URL or an uploaded payload is required", nil)
	}
	if req.SourceURL != "" && req.BlobKey != "" {
		return Receipt{}, services.Wrap(services.ErrInvalidRequest, "submit", "validate",
			"source URL and uploaded payload are mutually exclusive", nil)
	}
	if req.SourceURL != "" && !strings.Contains(req.SourceURL, "://") {
		return Receipt{}, services.Wrap(services.ErrInvalidRequest, "submit", "validate",
			fmt.Sprintf("source URL %q has no scheme", req.SourceURL), nil)
	}

	kind := req.Kind
	if kind == "" {
		if req.SourceURL != "" {
			kind = catalog.KindRemote
		} else {
			kind = catalog.KindAudio
		}
	}
	origin := req.Origin
	if origin == "" {
		origin = catalog.OriginManual
	}

	item := &catalog.MediaItem{
		Title:          req.Title,
		Kind:           kind,
		Origin:         origin,
		SubscriptionID: req.SubscriptionID,
		SourceURL:      req.SourceURL,
		BlobKey:        req.BlobKey,
		Status:         catalog.MediaPending,
	}
	if err := m.store.CreateMedia(ctx, item); err != nil {
		return Receipt{}, fmt.Errorf("create media item: %w", err)
	}

	job := &catalog.Job{
		MediaID: item.ID,
		Status:  catalog.JobPending,
		Stage:   "Pending",
	}
	if err := m.store.CreateJob(ctx, job); err != nil {
		return Receipt{}, fmt.Errorf("create job: %w", err)
	}

	m.logger.Info("submission accepted",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldMediaID, item.ID),
		logging.String("kind", string(kind)),
		logging.String("source_url", req.SourceURL))

	m.publishJob(job)
	return Receipt{JobID: job.ID, MediaID: item.ID}, nil
}

// Cancel flags a job for cancellation. The flag is observed at the next
// stage boundary; the return value reports whether the job was still
// cancellable.
func (m *Manager) Cancel(ctx context.Context, jobID string) (bool, error) {
	return m.store.RequestCancel(ctx, jobID)
}

// Resubmit queues a fresh job for an existing media item whose previous run
// ended in error or cancellation. Outputs persisted by earlier runs stay on
// the item, so the new job resumes cheaply (a stored payload skips the
// download, a claimed fingerprint passes the gate).
func (m *Manager) Resubmit(ctx context.Context, mediaID string) (Receipt, error) {
	item, err := m.store.GetMedia(ctx, mediaID)
	if err != nil {
		return Receipt{}, err
	}

	prev, err := m.store.JobForMedia(ctx, mediaID)
	if err != nil && !errors.Is(err, catalog.ErrNotFound) {
		return Receipt{}, err
	}
	if prev != nil {
		if !prev.Status.IsTerminal() {
			return Receipt{}, services.Wrap(services.ErrInvalidRequest, "resubmit", "validate",
				fmt.Sprintf("job %s for this item is still %s", prev.ID, prev.Status), nil)
		}
		switch prev.Status {
		case catalog.JobCompleted:
			return Receipt{}, services.Wrap(services.ErrInvalidRequest, "resubmit", "validate",
				"item already processed successfully", nil)
		case catalog.JobDuplicate:
			return Receipt{}, services.Wrap(services.ErrInvalidRequest, "resubmit", "validate",
				fmt.Sprintf("item is a duplicate of %s", item.CanonicalID), nil)
		}
	}

	if item.Status != catalog.MediaPending {
		item.Status = catalog.MediaPending
		if err := m.store.UpdateMedia(ctx, item); err != nil {
			return Receipt{}, fmt.Errorf("reset media status: %w", err)
		}
	}

	job := &catalog.Job{
		MediaID: item.ID,
		Status:  catalog.JobPending,
		Stage:   "Pending",
	}
	if err := m.store.CreateJob(ctx, job); err != nil {
		return Receipt{}, fmt.Errorf("create job: %w", err)
	}

	m.logger.Info("resubmission accepted",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldMediaID, item.ID))

	m.publishJob(job)
	return Receipt{JobID: job.ID, MediaID: item.ID}, nil
}
