package api

import (
	"time"

	"nexus/internal/catalog"
	"nexus/internal/pipeline"
	"nexus/internal/stage"
)

// SubmitURLRequest is the body of POST /api/media/url.
type SubmitURLRequest struct {
	SourceURL      string `json:"source_url"`
	Title          string `json:"title,omitempty"`
	Kind           string `json:"kind,omitempty"`
	SubscriptionID string `json:"subscription_id,omitempty"`
}

// SubmitResponse identifies the rows created for an accepted submission.
type SubmitResponse struct {
	JobID   string `json:"job_id"`
	MediaID string `json:"media_id"`
	Status  string `json:"status"`
}

func submitResponse(receipt pipeline.Receipt) SubmitResponse {
	return SubmitResponse{
		JobID:   receipt.JobID,
		MediaID: receipt.MediaID,
		Status:  string(catalog.JobPending),
	}
}

// MediaView is the wire representation of a catalog media item.
type MediaView struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Kind            string    `json:"kind"`
	Origin          string    `json:"origin"`
	SubscriptionID  string    `json:"subscription_id,omitempty"`
	SourceURL       string    `json:"source_url,omitempty"`
	BlobKey         string    `json:"blob_key,omitempty"`
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
	Fingerprint     string    `json:"fingerprint,omitempty"`
	CanonicalID     string    `json:"canonical_id,omitempty"`
	Transcript      string    `json:"transcript,omitempty"`
	Summary         string    `json:"summary,omitempty"`
	Tags            []string  `json:"tags,omitempty"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// JobView is the wire representation of a processing job.
type JobView struct {
	ID           string         `json:"id"`
	MediaID      string         `json:"media_id"`
	Status       string         `json:"status"`
	Stage        string         `json:"stage,omitempty"`
	Progress     float64        `json:"progress"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Attempts     map[string]int `json:"attempts,omitempty"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// MediaListResponse wraps GET /api/media results.
type MediaListResponse struct {
	Items []MediaView `json:"items"`
}

// CancelResponse reports the outcome of a cancel request.
type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// DeleteResponse reports the outcome of a media delete.
type DeleteResponse struct {
	Deleted bool `json:"deleted"`
}

// StatsResponse summarizes job counts per status.
type StatsResponse struct {
	Total     int            `json:"total"`
	Pending   int            `json:"pending"`
	Running   int            `json:"running"`
	Completed int            `json:"completed"`
	Duplicate int            `json:"duplicate"`
	Errored   int            `json:"errored"`
	Cancelled int            `json:"cancelled"`
	ByStatus  map[string]int `json:"by_status,omitempty"`
}

// StageHealthView is the wire form of one stage's health probe.
type StageHealthView struct {
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Running bool                       `json:"running"`
	Healthy bool                       `json:"healthy"`
	Stages  map[string]StageHealthView `json:"stages"`
}

func mediaView(item *catalog.MediaItem) MediaView {
	tags, _ := item.Tags()
	return MediaView{
		ID:              item.ID,
		Title:           item.Title,
		Kind:            string(item.Kind),
		Origin:          string(item.Origin),
		SubscriptionID:  item.SubscriptionID,
		SourceURL:       item.SourceURL,
		BlobKey:         item.BlobKey,
		DurationSeconds: item.DurationSeconds,
		Fingerprint:     item.Fingerprint,
		CanonicalID:     item.CanonicalID,
		Transcript:      item.Transcript,
		Summary:         item.Summary,
		Tags:            tags,
		Status:          string(item.Status),
		CreatedAt:       item.CreatedAt,
		UpdatedAt:       item.UpdatedAt,
	}
}

func jobView(job *catalog.Job) JobView {
	view := JobView{
		ID:           job.ID,
		MediaID:      job.MediaID,
		Status:       string(job.Status),
		Stage:        job.Stage,
		Progress:     job.Progress,
		ErrorMessage: job.ErrorMessage,
		StartedAt:    job.StartedAt,
		CompletedAt:  job.CompletedAt,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
	}
	if attempts := job.Attempts(); len(attempts) > 0 {
		view.Attempts = attempts
	}
	return view
}

func statsResponse(stats catalog.Stats) StatsResponse {
	resp := StatsResponse{
		Total:     stats.Total,
		Pending:   stats.Pending,
		Running:   stats.Running,
		Completed: stats.Completed,
		Duplicate: stats.Duplicate,
		Errored:   stats.Errored,
		Cancelled: stats.Cancelled,
	}
	if len(stats.ByStatus) > 0 {
		resp.ByStatus = make(map[string]int, len(stats.ByStatus))
		for status, count := range stats.ByStatus {
			resp.ByStatus[string(status)] = count
		}
	}
	return resp
}

func healthResponse(summary pipeline.StatusSummary) HealthResponse {
	resp := HealthResponse{
		Running: summary.Running,
		Healthy: summary.Healthy(),
		Stages:  make(map[string]StageHealthView, len(summary.StageHealth)),
	}
	for name, h := range summary.StageHealth {
		resp.Stages[name] = stageHealthView(h)
	}
	return resp
}

func stageHealthView(h stage.Health) StageHealthView {
	return StageHealthView{Ready: h.Ready, Detail: h.Detail}
}
