package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const jobColumns = "id, media_id, status, stage, progress, error_message, attempts_json, cancel_requested, version, started_at, completed_at, last_heartbeat, created_at, updated_at"

// CreateJob inserts a new job for a media item.
func (s *Store) CreateJob(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	if job.MediaID == "" {
		return errors.New("job media id is empty")
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = JobPending
	}
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	job.Version = 1

	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO jobs (`+jobColumns+`)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.MediaID,
		job.Status,
		nullableString(job.Stage),
		job.Progress,
		nullableString(job.ErrorMessage),
		nullableString(job.AttemptsJSON),
		boolToInt(job.CancelRequested),
		job.Version,
		nullableTime(job.StartedAt),
		nullableTime(job.CompletedAt),
		nullableTime(job.LastHeartbeat),
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob fetches a job by identifier.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// JobForMedia returns the most recent job for a media item.
func (s *Store) JobForMedia(ctx context.Context, mediaID string) (*Job, error) {
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT `+jobColumns+` FROM jobs WHERE media_id = ? ORDER BY created_at DESC LIMIT 1`,
		mediaID,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("job for media: %w", err)
	}
	return job, nil
}

// UpdateJob persists changes to a job under optimistic concurrency: the write
// succeeds only when the stored version still matches job.Version. Terminal
// rows are immutable; updating one returns ErrConflict.
func (s *Store) UpdateJob(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	expected := job.Version
	now := time.Now().UTC()

	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET status = ?, stage = ?, progress = ?, error_message = ?,
             attempts_json = ?, cancel_requested = ?, version = ?,
             started_at = ?, completed_at = ?, last_heartbeat = ?, updated_at = ?
         WHERE id = ? AND version = ?
           AND status NOT IN (?, ?, ?, ?)`,
		job.Status,
		nullableString(job.Stage),
		job.Progress,
		nullableString(job.ErrorMessage),
		nullableString(job.AttemptsJSON),
		boolToInt(job.CancelRequested),
		expected+1,
		nullableTime(job.StartedAt),
		nullableTime(job.CompletedAt),
		nullableTime(job.LastHeartbeat),
		now.Format(time.RFC3339Nano),
		job.ID,
		expected,
		JobCompleted,
		JobDuplicate,
		JobError,
		JobCancelled,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.GetJob(ctx, job.ID); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrConflict
	}
	job.Version = expected + 1
	job.UpdatedAt = now
	return nil
}

// NextRunnableJob returns the oldest unclaimed job in any of the provided
// statuses. A job is unclaimed while its heartbeat is empty; workers stamp
// the heartbeat when they take a job. Returns nil when nothing is runnable.
func (s *Store) NextRunnableJob(ctx context.Context, statuses ...JobStatus) (*Job, error) {
	if len(statuses) == 0 {
		statuses = ActiveJobStatuses()
	}
	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = status
	}
	query := `SELECT ` + jobColumns + ` FROM jobs
        WHERE status IN (` + makePlaceholders(len(statuses)) + `) AND last_heartbeat IS NULL
        ORDER BY created_at LIMIT 1`
	row := s.db.QueryRowContext(ensureContext(ctx), query, args...)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next runnable job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs filtered by status set (all jobs when no status is
// provided), newest first, optionally limited.
func (s *Store) ListJobs(ctx context.Context, limit int, statuses ...JobStatus) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := make([]any, 0, len(statuses)+1)
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, status)
		}
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// JobStats returns job counts grouped by status.
func (s *Store) JobStats(ctx context.Context) (Stats, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return Stats{}, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := Stats{ByStatus: make(map[JobStatus]int)}
	for rows.Next() {
		var status JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, err
		}
		stats.ByStatus[status] = count
		stats.Total += count
		switch status {
		case JobPending:
			stats.Pending += count
		case JobCompleted:
			stats.Completed += count
		case JobDuplicate:
			stats.Duplicate += count
		case JobError:
			stats.Errored += count
		case JobCancelled:
			stats.Cancelled += count
		default:
			stats.Running += count
		}
	}
	return stats, rows.Err()
}

// RequestCancel flags a non-terminal job for cancellation. The orchestrator
// observes the flag at the next stage boundary. The version is bumped so a
// concurrent writer loses its race and re-reads the flag. Returns ErrNotFound for an
// unknown job and false when the job already reached a terminal state.
func (s *Store) RequestCancel(ctx context.Context, jobID string) (bool, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET cancel_requested = 1, version = version + 1, updated_at = ?
         WHERE id = ? AND status NOT IN (?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano),
		jobID,
		JobCompleted,
		JobDuplicate,
		JobError,
		JobCancelled,
	)
	if err != nil {
		return false, fmt.Errorf("request cancel: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.GetJob(ctx, jobID); getErr != nil {
			return false, getErr
		}
		return false, nil
	}
	return true, nil
}

// UpdateHeartbeat stamps a job's heartbeat without touching the version,
// so a long-running stage does not conflict with its own liveness signal.
func (s *Store) UpdateHeartbeat(ctx context.Context, jobID string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET last_heartbeat = ?, updated_at = ? WHERE id = ?`,
		now,
		now,
		jobID,
	)
	if err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// ReclaimStale releases in-flight jobs whose heartbeat expired before the
// cutoff. Clearing the heartbeat makes them runnable again; their status is
// untouched, so processing resumes at the stage that was interrupted.
func (s *Store) ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET last_heartbeat = NULL, updated_at = ?
         WHERE status NOT IN (?, ?, ?, ?) AND last_heartbeat IS NOT NULL AND last_heartbeat < ?`,
		time.Now().UTC().Format(time.RFC3339Nano),
		JobCompleted,
		JobDuplicate,
		JobError,
		JobCancelled,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	return res.RowsAffected()
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id              string
		mediaID         string
		statusStr       string
		stage           sql.NullString
		progress        sql.NullFloat64
		errorMessage    sql.NullString
		attempts        sql.NullString
		cancelRequested sql.NullInt64
		version         int64
		startedRaw      sql.NullString
		completedRaw    sql.NullString
		heartbeatRaw    sql.NullString
		createdRaw      sql.NullString
		updatedRaw      sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&mediaID,
		&statusStr,
		&stage,
		&progress,
		&errorMessage,
		&attempts,
		&cancelRequested,
		&version,
		&startedRaw,
		&completedRaw,
		&heartbeatRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:            id,
		MediaID:       mediaID,
		Status:        JobStatus(statusStr),
		Stage:         stage.String,
		Progress:      progress.Float64,
		ErrorMessage:  errorMessage.String,
		AttemptsJSON:  attempts.String,
		Version:       version,
		StartedAt:     parseNullableTime(startedRaw),
		CompletedAt:   parseNullableTime(completedRaw),
		LastHeartbeat: parseNullableTime(heartbeatRaw),
	}
	if cancelRequested.Valid {
		job.CancelRequested = cancelRequested.Int64 != 0
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	return job, nil
}
