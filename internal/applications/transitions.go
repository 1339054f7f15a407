// Package applications owns the application state machine and its
// append-only event history.
//
// Pipeline status graph:
//
//	QUEUED ──► SUBMISSION_IN_PROGRESS ──► SUBMITTED ──► CONFIRMED ──► RESPONDED
//	                     │                    │  │                       ▲
//	                     └──► FAILED ◄────────┘  └───────────────────────┘
//
// Every non-administrative status may additionally move to ARCHIVED or
// CANCELLED. ARCHIVED and CANCELLED have no outgoing transitions; a manual
// re-queue creates a new Application.
package applications

import "fmt"

// Status values stored in applications.status.
type Status string

const (
	StatusQueued               Status = "QUEUED"
	StatusSubmissionInProgress Status = "SUBMISSION_IN_PROGRESS"
	StatusSubmitted            Status = "SUBMITTED"
	StatusConfirmed            Status = "CONFIRMED"
	StatusFailed               Status = "FAILED"
	StatusResponded            Status = "RESPONDED"
	StatusArchived             Status = "ARCHIVED"
	StatusCancelled            Status = "CANCELLED"
)

// AllStatuses lists every declared status in graph order.
var AllStatuses = []Status{
	StatusQueued,
	StatusSubmissionInProgress,
	StatusSubmitted,
	StatusConfirmed,
	StatusFailed,
	StatusResponded,
	StatusArchived,
	StatusCancelled,
}

// pipelineTransitions lists every automated (from → to) pair.
var pipelineTransitions = map[Status][]Status{
	StatusQueued:               {StatusSubmissionInProgress},
	StatusSubmissionInProgress: {StatusSubmitted, StatusFailed},
	StatusSubmitted:            {StatusConfirmed, StatusFailed, StatusResponded},
	StatusConfirmed:            {StatusResponded},
}

// ParseStatus converts a raw string to a Status, returning an error for
// unknown values.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	for _, known := range AllStatuses {
		if st == known {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown application status %q", s)
}

// IsAdministrative reports whether s is one of the operator-only end states.
func IsAdministrative(s Status) bool {
	return s == StatusArchived || s == StatusCancelled
}

// IsTransitionAllowed returns true when moving from → to is permitted by the
// state machine.
func IsTransitionAllowed(from, to Status) bool {
	if from == to {
		return false
	}
	if IsAdministrative(to) {
		return !IsAdministrative(from) && from != ""
	}
	for _, s := range pipelineTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the automated pipeline can no longer move an
// application out of s.
func IsTerminal(s Status) bool {
	_, ok := pipelineTransitions[s]
	return !ok
}
