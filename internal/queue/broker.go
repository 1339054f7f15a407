package queue

import (
	"context"
	"time"
)

// Broker stores tasks durably and moves them between the waiting, active,
// delayed, completed and failed sets. Implementations must be safe for
// concurrent use.
type Broker interface {
	// Add stores t as waiting, or delayed when t.RunAt is in the future. It
	// reports false without error when a task with t.ID already exists.
	Add(ctx context.Context, t Task) (bool, error)
	// Reserve moves the oldest waiting task to active, increments its
	// Attempts and stamps ReservedAt with now. It returns nil when nothing is
	// waiting.
	Reserve(ctx context.Context, queue string, now time.Time) (*Task, error)
	// Complete and Fail keep t.FinishedAt when the caller set it.
	Complete(ctx context.Context, t Task) error
	// Retry moves an active task to delayed until at.
	Retry(ctx context.Context, t Task, at time.Time, reason string) error
	// Fail moves an active task to the failed set, where it stays.
	Fail(ctx context.Context, t Task, reason string) error
	// Promote moves delayed tasks due at or before now to waiting.
	Promote(ctx context.Context, queue string, now time.Time) (int, error)
	// Remove deletes a waiting or delayed task. Active tasks are not removable.
	Remove(ctx context.Context, queue, id string) error
	Counts(ctx context.Context, queue string) (Counts, error)
	// Recover returns active tasks reserved before staleBefore to waiting.
	// Leases newer than that belong to a live worker and are left alone.
	Recover(ctx context.Context, queue string, staleBefore time.Time) (int, error)
	Close() error
}

// Counts is the depth of each set of a queue.
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Delayed   int64 `json:"delayed"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Health labels.
const (
	HealthHealthy   = "healthy"
	HealthAttention = "attention"
	HealthBacklog   = "backlog"
)

// BacklogThreshold is the waiting depth above which a queue is a backlog.
const BacklogThreshold = 50

// Classify derives a health label from counts.
func Classify(c Counts) string {
	switch {
	case c.Failed > 0:
		return HealthAttention
	case c.Waiting > BacklogThreshold:
		return HealthBacklog
	}
	return HealthHealthy
}

// Metrics are in-process counters for one queue since startup.
type Metrics struct {
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
	Retried   int64 `json:"retried"`
}

// QueueStatus is the introspection view of one queue. Error is set, and
// Counts omitted, when the broker could not be reached.
type QueueStatus struct {
	Name        string   `json:"name"`
	Concurrency int      `json:"concurrency"`
	Counts      *Counts  `json:"counts,omitempty"`
	Metrics     *Metrics `json:"metrics,omitempty"`
	Health      string   `json:"health,omitempty"`
	Error       string   `json:"error,omitempty"`
}
