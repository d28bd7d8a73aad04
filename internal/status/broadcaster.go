// Package status fans job progress events out to interested subscribers.
package status

import (
	"sync"
	"time"

	"nexus/internal/catalog"
)

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls further behind than this loses events rather than stalling the
// pipeline.
const subscriberBuffer = 16

// terminatedLimit caps how many finished jobs the broadcaster remembers.
// The markers only exist so late subscribers get a closed stream instead of
// one that never delivers; evicting the oldest once the cap is reached keeps
// the set bounded over the daemon's lifetime.
const terminatedLimit = 1024

// Event is one observable job transition. Events are ephemeral: nobody
// listening means the event is dropped.
type Event struct {
	JobID        string            `json:"job_id"`
	MediaID      string            `json:"media_id"`
	Status       catalog.JobStatus `json:"status"`
	Stage        string            `json:"stage,omitempty"`
	Progress     float64           `json:"progress"`
	ErrorMessage string            `json:"error_message,omitempty"`
	At           time.Time         `json:"at"`
}

// Terminal reports whether this event ends the job's stream.
func (e Event) Terminal() bool {
	return e.Status.IsTerminal()
}

// EventFromJob snapshots a job's observable state into an event.
func EventFromJob(job *catalog.Job) Event {
	return Event{
		JobID:        job.ID,
		MediaID:      job.MediaID,
		Status:       job.Status,
		Stage:        job.Stage,
		Progress:     job.Progress,
		ErrorMessage: job.ErrorMessage,
	}
}

// Broadcaster delivers events per job to any number of subscribers. Publish
// never blocks: each subscriber has a buffered channel and slow consumers
// drop events. Once a terminal event is delivered the job's streams close,
// and later subscriptions for that job yield an already-closed stream. Only
// the most recently finished jobs are remembered for that (terminatedLimit).
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[string][]chan Event
	terminated  map[string]struct{}
	recent      []string
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[string][]chan Event),
		terminated:  make(map[string]struct{}),
	}
}

// Publish fans the event out to the job's subscribers without blocking.
func (b *Broadcaster) Publish(event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, done := b.terminated[event.JobID]; done {
		return
	}

	for _, ch := range b.subscribers[event.JobID] {
		select {
		case ch <- event:
		default:
		}
	}

	if event.Terminal() {
		for _, ch := range b.subscribers[event.JobID] {
			close(ch)
		}
		delete(b.subscribers, event.JobID)
		b.markTerminated(event.JobID)
	}
}

// markTerminated records a finished job and evicts the oldest markers once
// the cap is reached. Callers hold b.mu.
func (b *Broadcaster) markTerminated(jobID string) {
	if _, ok := b.terminated[jobID]; ok {
		return
	}
	b.terminated[jobID] = struct{}{}
	b.recent = append(b.recent, jobID)
	// recent may hold ids Forget already cleared; skip those while evicting.
	for len(b.terminated) > terminatedLimit && len(b.recent) > 0 {
		oldest := b.recent[0]
		b.recent = b.recent[1:]
		delete(b.terminated, oldest)
	}
}

// Subscribe returns a stream of events for one job. The broadcaster closes
// the channel after the job's terminal event; subscribing to an already
// terminated job returns a closed channel immediately.
func (b *Broadcaster) Subscribe(jobID string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if _, done := b.terminated[jobID]; done {
		close(ch)
		return ch
	}
	b.subscribers[jobID] = append(b.subscribers[jobID], ch)
	return ch
}

// Unsubscribe detaches a subscriber before the job finishes. The channel is
// closed as part of detaching. Safe to call with a channel the broadcaster
// already closed.
func (b *Broadcaster) Unsubscribe(jobID string, sub <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	channels := b.subscribers[jobID]
	for i, ch := range channels {
		if ch == sub {
			b.subscribers[jobID] = append(channels[:i], channels[i+1:]...)
			close(ch)
			break
		}
	}
	if len(b.subscribers[jobID]) == 0 {
		delete(b.subscribers, jobID)
	}
}

// Forget clears the terminal marker for a job whose rows have been deleted,
// so the id stops occupying a slot in the bounded terminated set.
func (b *Broadcaster) Forget(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.terminated, jobID)
}
