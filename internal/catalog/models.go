package catalog

import (
	"encoding/json"
	"strings"
	"time"
)

// MediaStatus is the lifecycle of a media item.
type MediaStatus string

const (
	MediaPending    MediaStatus = "pending"
	MediaProcessing MediaStatus = "processing"
	MediaCompleted  MediaStatus = "completed"
	MediaError      MediaStatus = "error"
	MediaDuplicate  MediaStatus = "duplicate"
)

// MediaKind classifies the underlying content.
type MediaKind string

const (
	KindAudio  MediaKind = "audio"
	KindVideo  MediaKind = "video"
	KindRemote MediaKind = "remote"
)

// MediaOrigin records how an item entered the system.
type MediaOrigin string

const (
	OriginManual       MediaOrigin = "manual"
	OriginSubscription MediaOrigin = "subscription"
)

// JobStatus is the lifecycle of a processing job. The non-terminal statuses
// double as stage markers: a job in "transcribing" is owned by the transcribe
// stage until it advances or fails.
type JobStatus string

const (
	JobPending           JobStatus = "pending"
	JobExtracting        JobStatus = "extracting"
	JobCheckingDuplicate JobStatus = "checking_duplicate"
	JobTranscribing      JobStatus = "transcribing"
	JobEnriching         JobStatus = "enriching"
	JobEmbedding         JobStatus = "embedding"
	JobCompleted         JobStatus = "completed"
	JobDuplicate         JobStatus = "duplicate"
	JobError             JobStatus = "error"
	JobCancelled         JobStatus = "cancelled"
)

var allJobStatuses = []JobStatus{
	JobPending,
	JobExtracting,
	JobCheckingDuplicate,
	JobTranscribing,
	JobEnriching,
	JobEmbedding,
	JobCompleted,
	JobDuplicate,
	JobError,
	JobCancelled,
}

var jobStatusSet = func() map[JobStatus]struct{} {
	set := make(map[JobStatus]struct{}, len(allJobStatuses))
	for _, status := range allJobStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var terminalJobStatuses = map[JobStatus]struct{}{
	JobCompleted: {},
	JobDuplicate: {},
	JobError:     {},
	JobCancelled: {},
}

// AllJobStatuses returns the ordered list of known job statuses.
func AllJobStatuses() []JobStatus {
	cp := make([]JobStatus, len(allJobStatuses))
	copy(cp, allJobStatuses)
	return cp
}

// ParseJobStatus converts a string into a known JobStatus.
func ParseJobStatus(value string) (JobStatus, bool) {
	normalized := JobStatus(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := jobStatusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a status is final and immutable.
func (s JobStatus) IsTerminal() bool {
	_, ok := terminalJobStatuses[s]
	return ok
}

// ActiveJobStatuses returns the non-terminal statuses a worker may pick up.
func ActiveJobStatuses() []JobStatus {
	active := make([]JobStatus, 0, len(allJobStatuses))
	for _, status := range allJobStatuses {
		if !status.IsTerminal() {
			active = append(active, status)
		}
	}
	return active
}

// ParseMediaStatus converts a string into a known MediaStatus.
func ParseMediaStatus(value string) (MediaStatus, bool) {
	normalized := MediaStatus(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case MediaPending, MediaProcessing, MediaCompleted, MediaError, MediaDuplicate:
		return normalized, true
	}
	return "", false
}

// ParseMediaKind converts a string into a known MediaKind.
func ParseMediaKind(value string) (MediaKind, bool) {
	normalized := MediaKind(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case KindAudio, KindVideo, KindRemote:
		return normalized, true
	}
	return "", false
}

// Segment is one time-aligned span of transcript text.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// MediaItem is a catalog row describing one piece of media and the outputs
// the pipeline has produced for it so far.
type MediaItem struct {
	ID              string
	Title           string
	Kind            MediaKind
	Origin          MediaOrigin
	SubscriptionID  string
	SourceURL       string
	BlobKey         string
	DurationSeconds float64
	Fingerprint     string
	CanonicalID     string
	Transcript      string
	SegmentsJSON    string
	Summary         string
	TagsJSON        string
	EmbeddingJSON   string
	Status          MediaStatus
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Segments decodes the stored transcript segments.
func (m *MediaItem) Segments() ([]Segment, error) {
	if strings.TrimSpace(m.SegmentsJSON) == "" {
		return nil, nil
	}
	var segments []Segment
	if err := json.Unmarshal([]byte(m.SegmentsJSON), &segments); err != nil {
		return nil, err
	}
	return segments, nil
}

// SetSegments stores transcript segments as JSON.
func (m *MediaItem) SetSegments(segments []Segment) error {
	if len(segments) == 0 {
		m.SegmentsJSON = ""
		return nil
	}
	data, err := json.Marshal(segments)
	if err != nil {
		return err
	}
	m.SegmentsJSON = string(data)
	return nil
}

// Tags decodes the stored tag list.
func (m *MediaItem) Tags() ([]string, error) {
	if strings.TrimSpace(m.TagsJSON) == "" {
		return nil, nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(m.TagsJSON), &tags); err != nil {
		return nil, err
	}
	return tags, nil
}

// SetTags stores the tag list as JSON.
func (m *MediaItem) SetTags(tags []string) error {
	if len(tags) == 0 {
		m.TagsJSON = ""
		return nil
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return err
	}
	m.TagsJSON = string(data)
	return nil
}

// Embedding decodes the stored embedding vector.
func (m *MediaItem) Embedding() ([]float32, error) {
	if strings.TrimSpace(m.EmbeddingJSON) == "" {
		return nil, nil
	}
	var vector []float32
	if err := json.Unmarshal([]byte(m.EmbeddingJSON), &vector); err != nil {
		return nil, err
	}
	return vector, nil
}

// SetEmbedding stores the embedding vector as JSON.
func (m *MediaItem) SetEmbedding(vector []float32) error {
	if len(vector) == 0 {
		m.EmbeddingJSON = ""
		return nil
	}
	data, err := json.Marshal(vector)
	if err != nil {
		return err
	}
	m.EmbeddingJSON = string(data)
	return nil
}

// Job is one processing run over a media item.
type Job struct {
	ID              string
	MediaID         string
	Status          JobStatus
	Stage           string
	Progress        float64
	ErrorMessage    string
	AttemptsJSON    string
	CancelRequested bool
	Version         int64
	StartedAt       *time.Time
	CompletedAt     *time.Time
	LastHeartbeat   *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsTerminal reports whether the job has reached a final state.
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// Attempts decodes the per-stage attempt counters.
func (j *Job) Attempts() map[string]int {
	counters := make(map[string]int)
	if strings.TrimSpace(j.AttemptsJSON) == "" {
		return counters
	}
	if err := json.Unmarshal([]byte(j.AttemptsJSON), &counters); err != nil {
		return make(map[string]int)
	}
	return counters
}

// Attempt returns the recorded attempt count for one stage.
func (j *Job) Attempt(stage string) int {
	return j.Attempts()[stage]
}

// RecordAttempt increments the attempt counter for a stage and returns the
// new count.
func (j *Job) RecordAttempt(stage string) int {
	counters := j.Attempts()
	counters[stage]++
	data, err := json.Marshal(counters)
	if err != nil {
		return counters[stage]
	}
	j.AttemptsJSON = string(data)
	return counters[stage]
}

// SetProgress updates the stage label and progress percentage together.
func (j *Job) SetProgress(stage string, percent float64) {
	j.Stage = stage
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	j.Progress = percent
}

// Stats aggregates job counts per status.
type Stats struct {
	Total     int
	Pending   int
	Running   int
	Completed int
	Duplicate int
	Errored   int
	Cancelled int
	ByStatus  map[JobStatus]int
}
