package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"nexus/internal/catalog"
	"nexus/internal/logging"
	"nexus/internal/services"
	"nexus/internal/status"
)

// errJobCancelled aborts stage processing when the cancel flag is observed.
var errJobCancelled = errors.New("job cancelled")

// processJob walks one claimed job through the remaining pipeline stages.
// Jobs resume at the stage their status points at, so an interrupted run
// repeats only the stage it died in.
func (m *Manager) processJob(ctx context.Context, job *catalog.Job) {
	procCtx := services.WithRequestID(
		services.WithMediaID(services.WithJobID(ctx, job.ID), job.MediaID),
		uuid.NewString(),
	)
	logger := logging.WithContext(procCtx, m.logger)

	item, err := m.store.GetMedia(procCtx, job.MediaID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		wrapped := services.Wrap(services.ErrPermanent, "pipeline", "load media",
			"media item for job is missing", err)
		m.finalizeError(procCtx, logger, job, item, wrapped)
		return
	}

	if job.StartedAt == nil {
		now := time.Now().UTC()
		job.StartedAt = &now
	}

	idx, ok := m.stageIndexFor(job.Status)
	if !ok {
		logger.Warn("no stage owns job status", logging.String("status", string(job.Status)))
		return
	}

	// Jobs sharing a source URL must not race through extraction and the
	// duplicate gate at the same time: the second submission has to see the
	// first one's fingerprint claim.
	srcKey := ""
	srcLocked := false
	if item.SourceURL != "" && idx <= m.dedupIndex {
		srcKey = "src:" + item.SourceURL
		if err := m.locks.Lock(procCtx, srcKey); err != nil {
			return
		}
		srcLocked = true
		defer func() {
			if srcLocked {
				m.locks.Unlock(srcKey)
			}
		}()
	}

	for i := idx; i < len(m.stages); i++ {
		cancelled, err := m.refreshCancel(procCtx, job)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			m.setLastError(err)
			logger.Error("failed to refresh job before stage", logging.Error(err))
			return
		}
		if cancelled {
			m.finalizeCancelled(procCtx, logger, job, item)
			return
		}

		if err := m.runStage(procCtx, m.stages[i], job, item); err != nil {
			switch {
			case errors.Is(err, context.Canceled):
				return
			case errors.Is(err, errJobCancelled):
				m.finalizeCancelled(procCtx, logger, job, item)
				return
			case errors.Is(err, errJobSuperseded):
				m.setLastJob(job)
				return
			default:
				m.finalizeError(procCtx, logger, job, item, err)
				return
			}
		}

		if srcLocked && i >= m.dedupIndex {
			m.locks.Unlock(srcKey)
			srcLocked = false
		}

		if job.IsTerminal() {
			m.setLastJob(job)
			return
		}
	}
}

// runStage transitions the job into the stage's processing status, runs the
// handler with retries and heartbeats, and advances the job on success. The
// stage result and any media mutations are persisted before the transition
// is announced.
func (m *Manager) runStage(ctx context.Context, stg pipelineStage, job *catalog.Job, item *catalog.MediaItem) error {
	stageCtx := services.WithStage(ctx, stg.name)
	logger := logging.WithContext(stageCtx, m.logger)
	stageStart := time.Now()

	job.Status = stg.processing
	job.ErrorMessage = ""
	now := time.Now().UTC()
	job.LastHeartbeat = &now
	if err := m.persistJob(stageCtx, job); err != nil {
		return err
	}
	if job.CancelRequested {
		return errJobCancelled
	}
	m.publishJob(job)

	logger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("processing_status", string(stg.processing)))

	if stg.handler == nil {
		return services.Wrap(services.ErrPermanent, stg.name, "configure",
			"stage handler unavailable", nil)
	}

	execErr := stg.handler.Prepare(stageCtx, job, item)
	if execErr == nil {
		execErr = m.runAttempts(stageCtx, logger, stg, job, item)
	}
	if execErr != nil {
		if errors.Is(execErr, context.Canceled) && ctx.Err() != nil {
			return context.Canceled
		}
		if errors.Is(execErr, errJobCancelled) || errors.Is(execErr, errJobSuperseded) {
			return execErr
		}
		if !stg.degradable {
			return execErr
		}
		logger.Warn("stage degraded; continuing without its output",
			logging.Error(execErr),
			logging.String(logging.FieldEventType, "stage_degraded"))
		job.ErrorMessage = ""
	}

	if job.Status == stg.processing || job.Status == "" {
		job.Status = stg.done
	}
	if job.IsTerminal() {
		m.applyTerminalOutcome(job, item)
	}

	if err := m.persistMedia(stageCtx, item); err != nil {
		return err
	}
	if err := m.persistJob(stageCtx, job); err != nil {
		return err
	}
	m.publishJob(job)
	m.setLastJob(job)
	if job.CancelRequested && !job.IsTerminal() {
		return errJobCancelled
	}

	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String("next_status", string(job.Status)),
		logging.Duration("stage_duration", time.Since(stageStart)))
	return nil
}

// runAttempts retries the stage handler on transient failures with
// exponential backoff. Permanent failures and cancellations break out
// immediately.
func (m *Manager) runAttempts(ctx context.Context, logger *slog.Logger, stg pipelineStage, job *catalog.Job, item *catalog.MediaItem) error {
	maxAttempts := stg.maxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	for {
		attempt := job.RecordAttempt(stg.name)
		if err := m.persistJob(ctx, job); err != nil {
			return err
		}
		if job.CancelRequested {
			return errJobCancelled
		}

		execErr := m.executeWithHeartbeat(ctx, stg, job, item)
		if execErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return context.Canceled
		}
		if services.IsPermanent(execErr) || errors.Is(execErr, services.ErrCancelled) {
			return execErr
		}
		if attempt >= maxAttempts {
			return execErr
		}

		delay := m.backoffDelay(attempt)
		logger.Warn("stage attempt failed; retrying",
			logging.Error(execErr),
			logging.Int(logging.FieldAttempt, attempt),
			logging.Duration("retry_delay", delay),
			logging.String(logging.FieldEventType, "stage_retry"))
		if err := m.sleep(ctx, delay); err != nil {
			return context.Canceled
		}

		cancelled, err := m.refreshCancel(ctx, job)
		if err != nil {
			return err
		}
		if cancelled {
			return errJobCancelled
		}
	}
}

// executeWithHeartbeat runs the stage handler under its deadline while a
// companion goroutine keeps the job's heartbeat fresh.
func (m *Manager) executeWithHeartbeat(ctx context.Context, stg pipelineStage, job *catalog.Job, item *catalog.MediaItem) error {
	execCtx := ctx
	if stg.timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, stg.timeout)
		defer cancel()
	}

	hbCtx, hbCancel := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeatLoop(hbCtx, &hbWG, job.ID)

	err := stg.handler.Execute(execCtx, job, item)
	hbCancel()
	hbWG.Wait()

	if err != nil && errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return services.Wrap(services.ErrTimeout, stg.name, "execute",
			"stage deadline exceeded", err)
	}
	return err
}

// heartbeatLoop stamps the job heartbeat until the stage finishes.
func (m *Manager) heartbeatLoop(ctx context.Context, wg *sync.WaitGroup, jobID string) {
	defer wg.Done()
	if m.hbInterval <= 0 {
		return
	}
	ticker := time.NewTicker(m.hbInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.store.UpdateHeartbeat(ctx, jobID); err != nil && !errors.Is(err, context.Canceled) {
				m.logger.Warn("heartbeat update failed",
					logging.String(logging.FieldJobID, jobID),
					logging.Error(err))
			}
		}
	}
}

// backoffDelay computes the exponential retry delay after a failed attempt,
// capped at the configured maximum.
func (m *Manager) backoffDelay(attempt int) time.Duration {
	base := time.Duration(m.cfg.Retry.BaseDelaySeconds) * time.Second
	maxDelay := time.Duration(m.cfg.Retry.MaxDelaySeconds) * time.Second
	if base <= 0 {
		base = time.Second
	}
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 16 {
		return maxDelay
	}
	delay := base << (attempt - 1)
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

// refreshCancel reloads the cancel flag from the catalog and folds it into
// the in-memory job without losing local mutations.
func (m *Manager) refreshCancel(ctx context.Context, job *catalog.Job) (bool, error) {
	latest, err := m.store.GetJob(ctx, job.ID)
	if err != nil {
		return false, err
	}
	job.Version = latest.Version
	job.CancelRequested = job.CancelRequested || latest.CancelRequested
	return job.CancelRequested, nil
}

// applyTerminalOutcome settles job and media fields for a terminal status
// reached through normal stage flow (completed or duplicate).
func (m *Manager) applyTerminalOutcome(job *catalog.Job, item *catalog.MediaItem) {
	now := time.Now().UTC()
	job.CompletedAt = &now
	switch job.Status {
	case catalog.JobCompleted:
		job.SetProgress("Completed", 100)
		item.Status = catalog.MediaCompleted
	case catalog.JobDuplicate:
		job.SetProgress("Duplicate", 100)
		if item.Status != catalog.MediaDuplicate {
			item.Status = catalog.MediaDuplicate
		}
	}
}

// finalizeError parks the job and its media item in the error state with an
// operator readable message.
func (m *Manager) finalizeError(ctx context.Context, logger *slog.Logger, job *catalog.Job, item *catalog.MediaItem, stageErr error) {
	message := services.Message(stageErr)
	if message == "" {
		message = "processing failed"
	}

	now := time.Now().UTC()
	job.Status = catalog.JobError
	job.ErrorMessage = message
	job.CompletedAt = &now
	if item != nil {
		item.Status = catalog.MediaError
		if err := m.persistMedia(ctx, item); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("failed to persist media failure state", logging.Error(err))
		}
	}
	if err := m.persistJob(ctx, job); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, errJobSuperseded) {
		logger.Error("failed to persist job failure state", logging.Error(err))
	}

	logger.Error("job failed",
		logging.Error(stageErr),
		logging.String("error_message", message),
		logging.String(logging.FieldEventType, "stage_failure"),
		logging.String(logging.FieldErrorHint, "inspect the job with the show command, then resubmit"))

	m.publishJob(job)
	m.setLastError(stageErr)
	m.setLastJob(job)
}

// finalizeCancelled settles a cancel request observed at a stage boundary.
// The media item returns to pending so it can be resubmitted.
func (m *Manager) finalizeCancelled(ctx context.Context, logger *slog.Logger, job *catalog.Job, item *catalog.MediaItem) {
	now := time.Now().UTC()
	job.Status = catalog.JobCancelled
	job.ErrorMessage = ""
	job.Stage = "Cancelled"
	job.CompletedAt = &now
	if item != nil && (item.Status == catalog.MediaProcessing || item.Status == catalog.MediaPending) {
		item.Status = catalog.MediaPending
		if err := m.persistMedia(ctx, item); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("failed to persist media cancel state", logging.Error(err))
		}
	}
	if err := m.persistJob(ctx, job); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, errJobSuperseded) {
		logger.Error("failed to persist job cancel state", logging.Error(err))
	}

	logger.Info("job cancelled",
		logging.String(logging.FieldEventType, "job_cancelled"))

	m.publishJob(job)
	m.setLastJob(job)
}

// publishJob announces the job's current state to subscribers.
func (m *Manager) publishJob(job *catalog.Job) {
	m.broadcaster.Publish(status.EventFromJob(job))
}
