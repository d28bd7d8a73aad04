package catalog_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"nexus/internal/catalog"
	"nexus/internal/testsupport"
)

func newStore(t *testing.T) *catalog.Store {
	t.Helper()
	return testsupport.MustOpenStore(t, testsupport.NewConfig(t))
}

func createMedia(t *testing.T, store *catalog.Store, mutate func(*catalog.MediaItem)) *catalog.MediaItem {
	t.Helper()
	item := &catalog.MediaItem{
		Title:     "Test Item",
		Kind:      catalog.KindRemote,
		SourceURL: "https://example.com/watch?v=abc",
	}
	if mutate != nil {
		mutate(item)
	}
	if err := store.CreateMedia(context.Background(), item); err != nil {
		t.Fatalf("CreateMedia: %v", err)
	}
	return item
}

func createJob(t *testing.T, store *catalog.Store, mediaID string) *catalog.Job {
	t.Helper()
	job := &catalog.Job{MediaID: mediaID}
	if err := store.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	return job
}

func TestCreateAndGetMedia(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	item := createMedia(t, store, nil)
	if item.ID == "" {
		t.Fatal("expected generated media id")
	}
	if item.Version != 1 {
		t.Fatalf("version = %d, want 1", item.Version)
	}
	if item.Status != catalog.MediaPending {
		t.Fatalf("status = %s, want pending", item.Status)
	}

	fetched, err := store.GetMedia(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetMedia: %v", err)
	}
	if fetched.Title != item.Title || fetched.SourceURL != item.SourceURL {
		t.Fatalf("fetched item mismatch: %+v", fetched)
	}
}

func TestGetMediaNotFound(t *testing.T) {
	store := newStore(t)
	if _, err := store.GetMedia(context.Background(), "missing"); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateMediaBumpsVersion(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	item := createMedia(t, store, nil)
	item.Fingerprint = "fp-123"
	item.Status = catalog.MediaProcessing
	if err := store.UpdateMedia(ctx, item); err != nil {
		t.Fatalf("UpdateMedia: %v", err)
	}
	if item.Version != 2 {
		t.Fatalf("version = %d, want 2", item.Version)
	}

	fetched, err := store.GetMedia(ctx, item.ID)
	if err != nil {
		t.Fatal(err)
	}
	if fetched.Fingerprint != "fp-123" || fetched.Version != 2 {
		t.Fatalf("fetched = %+v", fetched)
	}
}

func TestUpdateMediaStaleVersionConflicts(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	item := createMedia(t, store, nil)
	stale, err := store.GetMedia(ctx, item.ID)
	if err != nil {
		t.Fatal(err)
	}

	item.Summary = "first writer"
	if err := store.UpdateMedia(ctx, item); err != nil {
		t.Fatalf("first UpdateMedia: %v", err)
	}

	stale.Summary = "second writer"
	if err := store.UpdateMedia(ctx, stale); !errors.Is(err, catalog.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}

	fetched, err := store.GetMedia(ctx, item.ID)
	if err != nil {
		t.Fatal(err)
	}
	if fetched.Summary != "first writer" {
		t.Fatalf("summary = %q, want the first writer's value preserved", fetched.Summary)
	}
}

func TestFindByFingerprintSkipsDuplicatesAndErrors(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	canonical := createMedia(t, store, func(m *catalog.MediaItem) {
		m.Fingerprint = "fp-shared"
		m.Status = catalog.MediaCompleted
	})
	createMedia(t, store, func(m *catalog.MediaItem) {
		m.Fingerprint = "fp-shared"
		m.Status = catalog.MediaDuplicate
		m.CanonicalID = canonical.ID
	})
	createMedia(t, store, func(m *catalog.MediaItem) {
		m.Fingerprint = "fp-errored"
		m.Status = catalog.MediaError
	})

	found, err := store.FindByFingerprint(ctx, "fp-shared")
	if err != nil {
		t.Fatalf("FindByFingerprint: %v", err)
	}
	if found.ID != canonical.ID {
		t.Fatalf("found %s, want canonical %s", found.ID, canonical.ID)
	}

	if _, err := store.FindByFingerprint(ctx, "fp-errored"); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("errored owner should not be found, got err = %v", err)
	}
	if _, err := store.FindByFingerprint(ctx, ""); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("empty fingerprint should be ErrNotFound, got %v", err)
	}
}

func TestJobLifecycle(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	item := createMedia(t, store, nil)
	job := createJob(t, store, item.ID)
	if job.Status != catalog.JobPending {
		t.Fatalf("status = %s, want pending", job.Status)
	}

	job.Status = catalog.JobExtracting
	job.SetProgress("Extracting", 10)
	now := time.Now().UTC()
	job.StartedAt = &now
	if err := store.UpdateJob(ctx, job); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	fetched, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if fetched.Status != catalog.JobExtracting || fetched.Progress != 10 || fetched.StartedAt == nil {
		t.Fatalf("fetched = %+v", fetched)
	}
	if fetched.Version != 2 {
		t.Fatalf("version = %d, want 2", fetched.Version)
	}

	latest, err := store.JobForMedia(ctx, item.ID)
	if err != nil {
		t.Fatalf("JobForMedia: %v", err)
	}
	if latest.ID != job.ID {
		t.Fatalf("JobForMedia returned %s, want %s", latest.ID, job.ID)
	}
}

func TestUpdateJobTerminalIsImmutable(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	item := createMedia(t, store, nil)
	job := createJob(t, store, item.ID)

	job.Status = catalog.JobCompleted
	job.SetProgress("Completed", 100)
	if err := store.UpdateJob(ctx, job); err != nil {
		t.Fatalf("transition to completed: %v", err)
	}

	job.Status = catalog.JobExtracting
	if err := store.UpdateJob(ctx, job); !errors.Is(err, catalog.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict writing a terminal row", err)
	}
}

func TestNextRunnableJobSkipsClaimed(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	first := createJob(t, store, createMedia(t, store, nil).ID)
	time.Sleep(2 * time.Millisecond)
	second := createJob(t, store, createMedia(t, store, nil).ID)

	next, err := store.NextRunnableJob(ctx, catalog.JobPending)
	if err != nil {
		t.Fatalf("NextRunnableJob: %v", err)
	}
	if next == nil || next.ID != first.ID {
		t.Fatalf("next = %+v, want oldest job %s", next, first.ID)
	}

	if err := store.UpdateHeartbeat(ctx, first.ID); err != nil {
		t.Fatalf("UpdateHeartbeat: %v", err)
	}

	next, err = store.NextRunnableJob(ctx, catalog.JobPending)
	if err != nil {
		t.Fatal(err)
	}
	if next == nil || next.ID != second.ID {
		t.Fatalf("next = %+v, want unclaimed job %s", next, second.ID)
	}

	if err := store.UpdateHeartbeat(ctx, second.ID); err != nil {
		t.Fatal(err)
	}
	next, err = store.NextRunnableJob(ctx, catalog.JobPending)
	if err != nil {
		t.Fatal(err)
	}
	if next != nil {
		t.Fatalf("next = %+v, want nil with everything claimed", next)
	}
}

func TestReclaimStaleReleasesExpiredHeartbeats(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	job := createJob(t, store, createMedia(t, store, nil).ID)
	job.Status = catalog.JobTranscribing
	if err := store.UpdateJob(ctx, job); err != nil {
		t.Fatal(err)
	}
	if err := store.UpdateHeartbeat(ctx, job.ID); err != nil {
		t.Fatal(err)
	}

	reclaimed, err := store.ReclaimStale(ctx, time.Now().UTC().Add(-time.Minute))
	if err != nil {
		t.Fatalf("ReclaimStale: %v", err)
	}
	if reclaimed != 0 {
		t.Fatalf("reclaimed %d jobs with a fresh heartbeat", reclaimed)
	}

	reclaimed, err = store.ReclaimStale(ctx, time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if reclaimed != 1 {
		t.Fatalf("reclaimed = %d, want 1", reclaimed)
	}

	fetched, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if fetched.LastHeartbeat != nil {
		t.Fatal("heartbeat should be cleared after reclaim")
	}
	if fetched.Status != catalog.JobTranscribing {
		t.Fatalf("status = %s, want transcribing preserved for resume", fetched.Status)
	}
}

func TestRequestCancel(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	job := createJob(t, store, createMedia(t, store, nil).ID)

	flagged, err := store.RequestCancel(ctx, job.ID)
	if err != nil {
		t.Fatalf("RequestCancel: %v", err)
	}
	if !flagged {
		t.Fatal("expected cancel flag to be set")
	}

	fetched, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !fetched.CancelRequested {
		t.Fatal("cancel_requested not persisted")
	}

	fetched.Status = catalog.JobCancelled
	if err := store.UpdateJob(ctx, fetched); err != nil {
		t.Fatal(err)
	}

	flagged, err = store.RequestCancel(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if flagged {
		t.Fatal("terminal job must not accept a cancel request")
	}

	if _, err := store.RequestCancel(ctx, "missing"); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestJobStats(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	pending := createJob(t, store, createMedia(t, store, nil).ID)
	_ = pending
	running := createJob(t, store, createMedia(t, store, nil).ID)
	running.Status = catalog.JobEnriching
	if err := store.UpdateJob(ctx, running); err != nil {
		t.Fatal(err)
	}
	done := createJob(t, store, createMedia(t, store, nil).ID)
	done.Status = catalog.JobCompleted
	if err := store.UpdateJob(ctx, done); err != nil {
		t.Fatal(err)
	}

	stats, err := store.JobStats(ctx)
	if err != nil {
		t.Fatalf("JobStats: %v", err)
	}
	if stats.Total != 3 || stats.Pending != 1 || stats.Running != 1 || stats.Completed != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestDeleteMediaCascadesJobs(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	item := createMedia(t, store, nil)
	job := createJob(t, store, item.ID)

	removed, err := store.DeleteMedia(ctx, item.ID)
	if err != nil {
		t.Fatalf("DeleteMedia: %v", err)
	}
	if !removed {
		t.Fatal("expected delete to report a removed row")
	}

	if _, err := store.GetJob(ctx, job.ID); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("job should cascade on media delete, got err = %v", err)
	}

	removed, err = store.DeleteMedia(ctx, item.ID)
	if err != nil {
		t.Fatal(err)
	}
	if removed {
		t.Fatal("second delete should report nothing removed")
	}
}

func TestListMediaFiltersAndLimits(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	createMedia(t, store, func(m *catalog.MediaItem) { m.Status = catalog.MediaCompleted })
	createMedia(t, store, func(m *catalog.MediaItem) { m.Status = catalog.MediaCompleted })
	createMedia(t, store, func(m *catalog.MediaItem) { m.Status = catalog.MediaError })

	completed, err := store.ListMedia(ctx, 0, catalog.MediaCompleted)
	if err != nil {
		t.Fatalf("ListMedia: %v", err)
	}
	if len(completed) != 2 {
		t.Fatalf("completed count = %d, want 2", len(completed))
	}

	limited, err := store.ListMedia(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 {
		t.Fatalf("limited count = %d, want 1", len(limited))
	}
}
