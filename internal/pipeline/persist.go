package pipeline

import (
	"context"
	"errors"
	"fmt"

	"nexus/internal/catalog"
)

// persistRetries bounds the conflict-merge loop. One merge per concurrent
// writer suffices; more conflicts than this means something is churning the
// row and the job should stop.
const persistRetries = 3

// errJobSuperseded reports that the stored job reached a terminal state
// under another writer; the in-memory job has been replaced with that state.
var errJobSuperseded = errors.New("job reached a terminal state elsewhere")

// persistJob writes the job under optimistic concurrency. A version conflict
// means another writer touched the row; the only concurrent writer by design
// is a cancel request, so the merge adopts the stored version and folds the
// cancel flag into the local copy before retrying.
func (m *Manager) persistJob(ctx context.Context, job *catalog.Job) error {
	for attempt := 0; attempt < persistRetries; attempt++ {
		err := m.store.UpdateJob(ctx, job)
		if err == nil {
			return nil
		}
		if !errors.Is(err, catalog.ErrConflict) {
			return fmt.Errorf("persist job: %w", err)
		}
		latest, getErr := m.store.GetJob(ctx, job.ID)
		if getErr != nil {
			return fmt.Errorf("persist job: reload after conflict: %w", getErr)
		}
		if latest.IsTerminal() {
			*job = *latest
			return errJobSuperseded
		}
		job.Version = latest.Version
		job.CancelRequested = job.CancelRequested || latest.CancelRequested
	}
	return fmt.Errorf("persist job %s: %w", job.ID, catalog.ErrConflict)
}

// persistMedia writes the media item, refreshing the version on conflict.
// The worker owns all content fields while its job is in flight, so local
// values win over whatever bumped the stored version.
func (m *Manager) persistMedia(ctx context.Context, item *catalog.MediaItem) error {
	for attempt := 0; attempt < persistRetries; attempt++ {
		err := m.store.UpdateMedia(ctx, item)
		if err == nil {
			return nil
		}
		if !errors.Is(err, catalog.ErrConflict) {
			return fmt.Errorf("persist media: %w", err)
		}
		latest, getErr := m.store.GetMedia(ctx, item.ID)
		if getErr != nil {
			return fmt.Errorf("persist media: reload after conflict: %w", getErr)
		}
		item.Version = latest.Version
	}
	return fmt.Errorf("persist media %s: %w", item.ID, catalog.ErrConflict)
}
