package dedup

import (
	"context"
	"errors"
	"log/slog"

	"nexus/internal/blob"
	"nexus/internal/catalog"
	"nexus/internal/fingerprint"
	"nexus/internal/logging"
	"nexus/internal/services"
	"nexus/internal/stage"
)

const stageName = "dedup"

// Gate is the duplicate-check stage. It fingerprints the stored payload,
// consults the fingerprint index, and either claims the fingerprint for this
// item or marks the job duplicate against the canonical owner.
//
// The lookup and the claim happen under a per-fingerprint lock and the claim
// is persisted before the lock releases, so two jobs carrying the same
// content can never both pass the gate.
type Gate struct {
	fingerprinter fingerprint.Fingerprinter
	store         *catalog.Store
	blobs         *blob.Store
	locks         *KeyedLock
	logger        *slog.Logger
}

// NewGate builds the duplicate gate.
func NewGate(fingerprinter fingerprint.Fingerprinter, store *catalog.Store, blobs *blob.Store, locks *KeyedLock, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = logging.NewNop()
	}
	if locks == nil {
		locks = NewKeyedLock()
	}
	return &Gate{
		fingerprinter: fingerprinter,
		store:         store,
		blobs:         blobs,
		locks:         locks,
		logger:        logging.NewComponentLogger(logger, stageName),
	}
}

// Prepare verifies the payload is in place to fingerprint. An item already
// marked duplicate passes without one: its payload was dropped when the
// verdict was persisted.
func (g *Gate) Prepare(ctx context.Context, job *catalog.Job, item *catalog.MediaItem) error {
	if item.Status == catalog.MediaDuplicate && item.CanonicalID != "" {
		return nil
	}
	if item.BlobKey == "" {
		return services.Wrap(services.ErrPermanent, stageName, "prepare",
			"media item has no stored payload to fingerprint", nil)
	}
	return nil
}

// Execute computes the fingerprint and resolves duplicate ownership.
func (g *Gate) Execute(ctx context.Context, job *catalog.Job, item *catalog.MediaItem) error {
	// Resume path: the duplicate verdict is already durable, only the job
	// row lagged behind.
	if item.Status == catalog.MediaDuplicate && item.CanonicalID != "" {
		job.Status = catalog.JobDuplicate
		job.SetProgress("Duplicate", 100)
		return nil
	}

	job.SetProgress("Checking duplicate", 30)

	path, err := g.blobs.Path(item.BlobKey)
	if err != nil {
		return services.Wrap(services.ErrPermanent, stageName, "locate blob",
			"stored payload disappeared", err)
	}

	fp, err := g.fingerprinter.Compute(ctx, path)
	if err != nil {
		return services.Wrap(services.ErrTransient, stageName, "fingerprint",
			"failed to compute content fingerprint", err)
	}

	if err := g.locks.Lock(ctx, fp); err != nil {
		return services.Wrap(services.ErrCancelled, stageName, "lock fingerprint",
			"gave up waiting for the fingerprint lock", err)
	}
	defer g.locks.Unlock(fp)

	var duplicateKey string
	owner, err := g.store.FindByFingerprint(ctx, fp)
	switch {
	case err == nil && owner.ID != item.ID:
		item.Fingerprint = fp
		item.Status = catalog.MediaDuplicate
		item.CanonicalID = owner.ID
		// The canonical item keeps the payload; the duplicate's copy is
		// dropped once the verdict is durable.
		duplicateKey = item.BlobKey
		item.BlobKey = ""
		job.Status = catalog.JobDuplicate
		job.SetProgress("Duplicate", 100)
		g.logger.Info("duplicate content detected",
			logging.String(logging.FieldMediaID, item.ID),
			logging.String("canonical_id", owner.ID),
			logging.String("fingerprint", fp))
	case err == nil:
		// This item already owns the fingerprint (resume after a crash).
		item.Fingerprint = fp
	case errors.Is(err, catalog.ErrNotFound):
		item.Fingerprint = fp
	default:
		return services.Wrap(services.ErrTransient, stageName, "index lookup",
			"fingerprint index query failed", err)
	}

	// Persist the claim while the lock is held so a concurrent job with the
	// same content sees it.
	if err := g.store.UpdateMedia(ctx, item); err != nil {
		return services.Wrap(services.ErrTransient, stageName, "claim fingerprint",
			"failed to persist fingerprint claim", err)
	}

	if duplicateKey != "" {
		if err := g.blobs.Remove(ctx, duplicateKey); err != nil {
			g.logger.Warn("failed to remove duplicate payload",
				logging.String(logging.FieldMediaID, item.ID),
				logging.String("blob_key", duplicateKey),
				logging.Error(err))
		}
	}

	if job.Status != catalog.JobDuplicate {
		job.SetProgress("Checking duplicate", 40)
	}
	return nil
}

// HealthCheck reports gate readiness.
func (g *Gate) HealthCheck(ctx context.Context) stage.Health {
	if err := g.store.Ping(ctx); err != nil {
		return stage.Unhealthy(stageName, "catalog database unreachable: "+err.Error())
	}
	return stage.Healthy(stageName)
}
