package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"nexus/internal/catalog"
	"nexus/internal/config"
	"nexus/internal/dedup"
	"nexus/internal/logging"
	"nexus/internal/stage"
	"nexus/internal/status"
)

// StageSet bundles the concrete stage handlers the manager orchestrates, in
// pipeline order.
type StageSet struct {
	Extract    stage.Handler
	Dedup      stage.Handler
	Transcribe stage.Handler
	Enrich     stage.Handler
	Embed      stage.Handler
}

// pipelineStage binds a handler to the job statuses it owns. A job whose
// status equals processing belongs to this stage; done is the status the job
// advances to on success. Degradable stages log their failure and advance
// instead of sinking the job.
type pipelineStage struct {
	name        string
	handler     stage.Handler
	processing  catalog.JobStatus
	done        catalog.JobStatus
	timeout     time.Duration
	maxAttempts int
	degradable  bool
}

// sleeper waits out a retry backoff delay. Injected so tests can observe
// delays without waiting them out.
type sleeper func(ctx context.Context, d time.Duration) error

func defaultSleeper(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Manager coordinates job processing using the registered stage handlers.
type Manager struct {
	cfg          *config.Config
	store        *catalog.Store
	broadcaster  *status.Broadcaster
	locks        *dedup.KeyedLock
	logger       *slog.Logger
	pollInterval time.Duration
	errorRetry   time.Duration
	hbInterval   time.Duration
	hbTimeout    time.Duration
	sleep        sleeper

	stages     []pipelineStage
	dedupIndex int

	slots chan struct{}

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
	lastJob *catalog.Job
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*Manager)

// WithSleeper replaces the retry backoff sleeper. Tests use this to record
// delays instead of waiting for them.
func WithSleeper(s sleeper) ManagerOption {
	return func(m *Manager) {
		if s != nil {
			m.sleep = s
		}
	}
}

// WithPollInterval overrides the configured queue poll interval.
func WithPollInterval(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// NewManager constructs a pipeline manager. Stages are registered separately
// via ConfigureStages before Start.
func NewManager(cfg *config.Config, store *catalog.Store, broadcaster *status.Broadcaster, locks *dedup.KeyedLock, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	if broadcaster == nil {
		broadcaster = status.NewBroadcaster()
	}
	if locks == nil {
		locks = dedup.NewKeyedLock()
	}
	m := &Manager{
		cfg:          cfg,
		store:        store,
		broadcaster:  broadcaster,
		locks:        locks,
		logger:       logging.NewComponentLogger(logger, "pipeline"),
		pollInterval: time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		errorRetry:   time.Duration(cfg.Workflow.ErrorRetryInterval) * time.Second,
		hbInterval:   time.Duration(cfg.Workflow.HeartbeatInterval) * time.Second,
		hbTimeout:    time.Duration(cfg.Workflow.HeartbeatTimeout) * time.Second,
		sleep:        defaultSleeper,
		slots:        make(chan struct{}, cfg.Workflow.Workers),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ConfigureStages registers the stage handlers and freezes the pipeline
// order. Must be called before Start.
func (m *Manager) ConfigureStages(set StageSet) {
	cfg := m.cfg
	m.stages = []pipelineStage{
		{
			name:        "extract",
			handler:     set.Extract,
			processing:  catalog.JobExtracting,
			done:        catalog.JobCheckingDuplicate,
			timeout:     time.Duration(cfg.Extract.TimeoutSeconds) * time.Second,
			maxAttempts: cfg.Retry.MaxAttempts,
		},
		{
			name:        "dedup",
			handler:     set.Dedup,
			processing:  catalog.JobCheckingDuplicate,
			done:        catalog.JobTranscribing,
			timeout:     time.Duration(cfg.Fingerprint.TimeoutSeconds) * time.Second,
			maxAttempts: cfg.Retry.MaxAttempts,
		},
		{
			name:        "transcribe",
			handler:     set.Transcribe,
			processing:  catalog.JobTranscribing,
			done:        catalog.JobEnriching,
			timeout:     time.Duration(cfg.Transcriber.TimeoutSeconds) * time.Second,
			maxAttempts: cfg.Retry.TranscribeMaxAttempts,
		},
		{
			name:        "enrich",
			handler:     set.Enrich,
			processing:  catalog.JobEnriching,
			done:        catalog.JobEmbedding,
			timeout:     time.Duration(cfg.Enricher.TimeoutSeconds) * time.Second,
			maxAttempts: cfg.Retry.MaxAttempts,
			degradable:  true,
		},
		{
			name:        "embed",
			handler:     set.Embed,
			processing:  catalog.JobEmbedding,
			done:        catalog.JobCompleted,
			timeout:     time.Duration(cfg.Embedder.TimeoutSeconds) * time.Second,
			maxAttempts: cfg.Retry.MaxAttempts,
			degradable:  true,
		},
	}
	m.dedupIndex = 1
}

// stageIndexFor maps a job status to the index of the stage that owns it.
// Pending jobs start at the first stage; a job left in a processing status by
// a crash resumes at that stage.
func (m *Manager) stageIndexFor(jobStatus catalog.JobStatus) (int, bool) {
	if jobStatus == catalog.JobPending {
		if len(m.stages) == 0 {
			return 0, false
		}
		return 0, true
	}
	for i, stg := range m.stages {
		if stg.processing == jobStatus {
			return i, true
		}
	}
	return 0, false
}

// Broadcaster exposes the event fan-out for transport layers.
func (m *Manager) Broadcaster() *status.Broadcaster {
	return m.broadcaster
}

// Subscribe returns a stream of progress events for one job.
func (m *Manager) Subscribe(jobID string) <-chan status.Event {
	return m.broadcaster.Subscribe(jobID)
}

// Unsubscribe detaches a subscriber obtained from Subscribe.
func (m *Manager) Unsubscribe(jobID string, sub <-chan status.Event) {
	m.broadcaster.Unsubscribe(jobID, sub)
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setLastJob(job *catalog.Job) {
	m.mu.Lock()
	if job != nil {
		cp := *job
		m.lastJob = &cp
	} else {
		m.lastJob = nil
	}
	m.mu.Unlock()
}
