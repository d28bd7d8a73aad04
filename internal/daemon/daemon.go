// Package daemon composes the catalog store, the pipeline manager, and the
// HTTP API into one background service, and enforces single-instance
// execution through a file lock.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/gofrs/flock"

	"nexus/internal/api"
	"nexus/internal/blob"
	"nexus/internal/catalog"
	"nexus/internal/config"
	"nexus/internal/dedup"
	"nexus/internal/embed"
	"nexus/internal/enrich"
	"nexus/internal/extract"
	"nexus/internal/fingerprint"
	"nexus/internal/logging"
	"nexus/internal/pipeline"
	"nexus/internal/transcribe"
)

// Daemon owns the background services for one nexus instance.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *catalog.Store
	blobs   *blob.Store
	manager *pipeline.Manager
	apiSrv  *api.Server

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status is a runtime snapshot of the daemon.
type Status struct {
	Running      bool
	Pipeline     pipeline.StatusSummary
	DatabasePath string
	LockFilePath string
}

// New builds a daemon with all stages wired from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires configuration")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	store, err := catalog.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	blobs, err := blob.NewStore(cfg.Paths.BlobDir)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	locks := dedup.NewKeyedLock()
	manager := pipeline.NewManager(cfg, store, nil, locks, logger)

	enricher, err := enrich.NewLLMEnricher(cfg)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("configure enricher: %w", err)
	}
	embedder, err := embed.NewOllamaEmbedder(cfg)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("configure embedder: %w", err)
	}

	manager.ConfigureStages(pipeline.StageSet{
		Extract:    extract.NewStage(cfg, blobs, logger),
		Dedup:      dedup.NewGate(fingerprint.NewAuto(cfg.Fingerprint.FpcalcBinary), store, blobs, locks, logger),
		Transcribe: transcribe.NewStage(cfg, blobs, logger),
		Enrich:     enrich.NewStage(enricher, logger),
		Embed:      embed.NewStage(embedder, logger),
	})

	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		blobs:    blobs,
		manager:  manager,
		apiSrv:   api.NewServer(cfg, manager, store, blobs, logger),
		lockPath: cfg.LockFilePath(),
		lock:     flock.New(cfg.LockFilePath()),
	}, nil
}

// Start acquires the instance lock and launches the pipeline and API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire instance lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another nexus daemon already holds %s", d.lockPath)
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.manager.Start(runCtx); err != nil {
		cancel()
		d.cancel = nil
		_ = d.lock.Unlock()
		return fmt.Errorf("start pipeline: %w", err)
	}
	if err := d.apiSrv.Start(runCtx); err != nil {
		d.manager.Stop()
		cancel()
		d.cancel = nil
		_ = d.lock.Unlock()
		return fmt.Errorf("start api server: %w", err)
	}

	d.running.Store(true)
	d.logger.Info("daemon started",
		logging.String("lock", d.lockPath),
		logging.String("database", d.store.Path()),
		logging.String("api_bind", d.cfg.Paths.APIBind))
	return nil
}

// Stop halts the API, drains the pipeline, and releases the instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.apiSrv.Stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.manager.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release instance lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("daemon stopped")
}

// Close stops the daemon and releases its stores.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Status reports the daemon's runtime state.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Running:      d.running.Load(),
		Pipeline:     d.manager.Status(ctx),
		DatabasePath: d.store.Path(),
		LockFilePath: d.lockPath,
	}
}

// Manager exposes the pipeline manager, mainly for tests.
func (d *Daemon) Manager() *pipeline.Manager {
	return d.manager
}
