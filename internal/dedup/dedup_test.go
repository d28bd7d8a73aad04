package dedup_test

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"nexus/internal/blob"
	"nexus/internal/catalog"
	"nexus/internal/dedup"
	"nexus/internal/testsupport"
)

type fixedFingerprinter struct {
	value string
}

func (f fixedFingerprinter) Compute(ctx context.Context, path string) (string, error) {
	return f.value, nil
}

func TestKeyedLockMutualExclusion(t *testing.T) {
	locks := dedup.NewKeyedLock()
	ctx := context.Background()

	if err := locks.Lock(ctx, "fp"); err != nil {
		t.Fatal(err)
	}
	if locks.TryLock("fp") {
		t.Fatal("TryLock should fail while held")
	}
	if !locks.TryLock("other") {
		t.Fatal("independent keys should not contend")
	}
	locks.Unlock("other")

	acquired := make(chan struct{})
	go func() {
		if err := locks.Lock(ctx, "fp"); err != nil {
			t.Error(err)
			return
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired the lock before release")
	case <-time.After(20 * time.Millisecond):
	}

	locks.Unlock("fp")
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the lock after release")
	}
	locks.Unlock("fp")
}

func TestKeyedLockHonorsContext(t *testing.T) {
	locks := dedup.NewKeyedLock()
	if err := locks.Lock(context.Background(), "fp"); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := locks.Lock(ctx, "fp"); err == nil {
		t.Fatal("expected context expiry while waiting")
	}
}

func TestKeyedLockConcurrentHolders(t *testing.T) {
	locks := dedup.NewKeyedLock()
	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := locks.Lock(context.Background(), "shared"); err != nil {
				t.Error(err)
				return
			}
			counter++
			locks.Unlock("shared")
		}()
	}
	wg.Wait()
	if counter != 16 {
		t.Fatalf("counter = %d, want 16 serialized increments", counter)
	}
}

func newGateFixture(t *testing.T) (*catalog.Store, *blob.Store, *dedup.KeyedLock) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	blobs, err := blob.NewStore(filepath.Join(t.TempDir(), "blobs"))
	if err != nil {
		t.Fatal(err)
	}
	return store, blobs, dedup.NewKeyedLock()
}

func seedItem(t *testing.T, store *catalog.Store, blobs *blob.Store, content string) (*catalog.MediaItem, *catalog.Job) {
	t.Helper()
	ctx := context.Background()
	key, err := blobs.Put(ctx, strings.NewReader(content))
	if err != nil {
		t.Fatal(err)
	}
	item := &catalog.MediaItem{
		Title:   "Item",
		Kind:    catalog.KindAudio,
		BlobKey: key,
		Status:  catalog.MediaProcessing,
	}
	if err := store.CreateMedia(ctx, item); err != nil {
		t.Fatal(err)
	}
	job := &catalog.Job{MediaID: item.ID, Status: catalog.JobCheckingDuplicate}
	if err := store.CreateJob(ctx, job); err != nil {
		t.Fatal(err)
	}
	return item, job
}

func TestGateClaimsNewFingerprint(t *testing.T) {
	store, blobs, locks := newGateFixture(t)
	ctx := context.Background()

	item, job := seedItem(t, store, blobs, "unique content")
	gate := dedup.NewGate(fixedFingerprinter{value: "fp-unique"}, store, blobs, locks, nil)

	if err := gate.Execute(ctx, job, item); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if item.Fingerprint != "fp-unique" {
		t.Fatalf("fingerprint = %q", item.Fingerprint)
	}
	if job.Status == catalog.JobDuplicate {
		t.Fatal("first owner must not be marked duplicate")
	}

	// The claim must be durable before the stage returns.
	persisted, err := store.GetMedia(ctx, item.ID)
	if err != nil {
		t.Fatal(err)
	}
	if persisted.Fingerprint != "fp-unique" {
		t.Fatalf("persisted fingerprint = %q", persisted.Fingerprint)
	}
}

func TestGateShortCircuitsDuplicate(t *testing.T) {
	store, blobs, locks := newGateFixture(t)
	ctx := context.Background()

	first, firstJob := seedItem(t, store, blobs, "same content")
	gate := dedup.NewGate(fixedFingerprinter{value: "fp-dup"}, store, blobs, locks, nil)
	if err := gate.Execute(ctx, firstJob, first); err != nil {
		t.Fatal(err)
	}

	second, secondJob := seedItem(t, store, blobs, "same content")
	loserKey := second.BlobKey
	if err := gate.Execute(ctx, secondJob, second); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if second.Status != catalog.MediaDuplicate {
		t.Fatalf("second item status = %s, want duplicate", second.Status)
	}
	if second.CanonicalID != first.ID {
		t.Fatalf("canonical id = %q, want %q", second.CanonicalID, first.ID)
	}
	if secondJob.Status != catalog.JobDuplicate {
		t.Fatalf("second job status = %s, want duplicate", secondJob.Status)
	}
	if secondJob.Progress != 100 {
		t.Fatalf("duplicate job progress = %f, want 100", secondJob.Progress)
	}

	// The canonical item keeps its payload; the duplicate's copy is dropped.
	if second.BlobKey != "" {
		t.Fatalf("duplicate blob key = %q, want cleared", second.BlobKey)
	}
	if _, err := blobs.Get(ctx, loserKey); err == nil {
		t.Fatal("duplicate payload should be removed from the blob store")
	}
	payload, err := blobs.Get(ctx, first.BlobKey)
	if err != nil {
		t.Fatalf("canonical payload missing: %v", err)
	}
	payload.Close()
}

func TestGateResumesPersistedDuplicateVerdict(t *testing.T) {
	store, blobs, locks := newGateFixture(t)
	ctx := context.Background()

	first, firstJob := seedItem(t, store, blobs, "shared")
	gate := dedup.NewGate(fixedFingerprinter{value: "fp-replay"}, store, blobs, locks, nil)
	if err := gate.Execute(ctx, firstJob, first); err != nil {
		t.Fatal(err)
	}

	second, secondJob := seedItem(t, store, blobs, "shared")
	if err := gate.Execute(ctx, secondJob, second); err != nil {
		t.Fatal(err)
	}

	// Re-running the stage after a crash, with the verdict persisted but the
	// job row still non-terminal, must reach the same outcome without a
	// payload to fingerprint.
	replayJob := &catalog.Job{MediaID: second.ID, Status: catalog.JobCheckingDuplicate}
	if err := gate.Prepare(ctx, replayJob, second); err != nil {
		t.Fatalf("Prepare on persisted duplicate: %v", err)
	}
	if err := gate.Execute(ctx, replayJob, second); err != nil {
		t.Fatalf("Execute on persisted duplicate: %v", err)
	}
	if replayJob.Status != catalog.JobDuplicate {
		t.Fatalf("replayed job status = %s, want duplicate", replayJob.Status)
	}
}

func TestGateResumeKeepsOwnership(t *testing.T) {
	store, blobs, locks := newGateFixture(t)
	ctx := context.Background()

	item, job := seedItem(t, store, blobs, "content")
	gate := dedup.NewGate(fixedFingerprinter{value: "fp-resume"}, store, blobs, locks, nil)

	if err := gate.Execute(ctx, job, item); err != nil {
		t.Fatal(err)
	}
	// Re-running the gate for the same item (crash resume) must not turn the
	// owner into a duplicate of itself.
	if err := gate.Execute(ctx, job, item); err != nil {
		t.Fatalf("second Execute: %v", err)
	}
	if item.Status == catalog.MediaDuplicate {
		t.Fatal("owner re-check must not self-duplicate")
	}
}

func TestGateConcurrentSameContentYieldsOneOwner(t *testing.T) {
	store, blobs, locks := newGateFixture(t)
	ctx := context.Background()

	gate := dedup.NewGate(fixedFingerprinter{value: "fp-race"}, store, blobs, locks, nil)

	type outcome struct {
		item *catalog.MediaItem
		job  *catalog.Job
	}
	outcomes := make([]outcome, 4)
	for i := range outcomes {
		item, job := seedItem(t, store, blobs, "racing content")
		outcomes[i] = outcome{item: item, job: job}
	}

	var wg sync.WaitGroup
	for i := range outcomes {
		wg.Add(1)
		go func(o outcome) {
			defer wg.Done()
			if err := gate.Execute(ctx, o.job, o.item); err != nil {
				t.Errorf("Execute: %v", err)
			}
		}(outcomes[i])
	}
	wg.Wait()

	owners := 0
	for _, o := range outcomes {
		if o.job.Status != catalog.JobDuplicate {
			owners++
		}
	}
	if owners != 1 {
		t.Fatalf("owners = %d, want exactly 1", owners)
	}
}
