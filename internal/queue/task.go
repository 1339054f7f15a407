// Package queue is the durable task layer: named queues backed by a Broker,
// one worker per queue with bounded concurrency, retry with backoff and
// keyed recurring entries.
package queue

import (
	"encoding/json"
	"errors"
	"time"
)

// Backoff types.
const (
	BackoffExponential = "exponential"
	BackoffFixed       = "fixed"
)

// Defaults applied to every task unless Options override them.
const (
	DefaultAttempts         = 3
	DefaultBackoffDelay     = 5 * time.Second
	DefaultRemoveOnComplete = 1000
)

var (
	ErrUnknownQueue     = errors.New("unknown queue")
	ErrWorkerRegistered = errors.New("worker already registered for queue")
	ErrNotInitialized   = errors.New("queue manager not initialized")
	ErrNotPending       = errors.New("task is not waiting or delayed")
	ErrClosed           = errors.New("broker closed")
)

// Backoff computes the wait before a retry.
type Backoff struct {
	Type  string        `json:"type"`
	Delay time.Duration `json:"delay"`
}

// Next returns the delay before retrying after the given failed attempt
// (1-based). Exponential backoff doubles from Delay.
func (b Backoff) Next(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if b.Type != BackoffExponential {
		return b.Delay
	}
	d := b.Delay
	for i := 1; i < attempt && d < 24*time.Hour; i++ {
		d *= 2
	}
	return d
}

// Options tune one Add call. Zero values select the defaults.
type Options struct {
	JobID            string        // idempotency key; an existing id makes Add a no-op
	Delay            time.Duration // hold in the delayed set before first pickup
	Attempts         int
	Backoff          *Backoff
	Repeat           time.Duration // AddRepeatable only
	RemoveOnComplete int           // completed tasks retained per queue
}

func (o Options) withDefaults() Options {
	if o.Attempts <= 0 {
		o.Attempts = DefaultAttempts
	}
	if o.Backoff == nil {
		o.Backoff = &Backoff{Type: BackoffExponential, Delay: DefaultBackoffDelay}
	}
	if o.RemoveOnComplete <= 0 {
		o.RemoveOnComplete = DefaultRemoveOnComplete
	}
	return o
}

// Task is one unit of queued work.
type Task struct {
	ID               string          `json:"id"`
	Queue            string          `json:"queue"`
	Name             string          `json:"name"`
	Payload          json.RawMessage `json:"payload"`
	Attempts         int             `json:"attempts"` // pickups so far
	MaxAttempts      int             `json:"maxAttempts"`
	Backoff          Backoff         `json:"backoff"`
	RemoveOnComplete int             `json:"removeOnComplete"`
	RunAt            time.Time       `json:"runAt"`
	CreatedAt        time.Time       `json:"createdAt"`
	ReservedAt       time.Time       `json:"reservedAt,omitzero"` // lease start of the current pickup
	FinishedAt       time.Time       `json:"finishedAt,omitzero"`
	FailedReason     string          `json:"failedReason,omitempty"`
}

// CanRetry reports whether another attempt is allowed after a failure.
func (t Task) CanRetry() bool { return t.Attempts < t.MaxAttempts }

// FinalAttempt reports whether the current pickup is the last one.
func (t Task) FinalAttempt() bool { return t.Attempts >= t.MaxAttempts }

// delayed reports whether t should wait in the delayed set. The reference
// is the enqueuer's CreatedAt so a task's placement follows the clock that
// stamped it.
func (t Task) delayed() bool {
	ref := t.CreatedAt
	if ref.IsZero() {
		ref = time.Now()
	}
	return t.RunAt.After(ref)
}

func (t Task) finishedAt() time.Time {
	if t.FinishedAt.IsZero() {
		return time.Now()
	}
	return t.FinishedAt
}

// Decode unmarshals the payload into v.
func (t Task) Decode(v any) error { return json.Unmarshal(t.Payload, v) }
