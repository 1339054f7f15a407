package applications

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Application is one user's submission attempt for one posting.
type Application struct {
	ID               string          `json:"id"`
	UserID           string          `json:"userId"`
	JobPostingID     string          `json:"jobPostingId"`
	JobTitle         string          `json:"jobTitle,omitempty"`
	Company          string          `json:"company,omitempty"`
	ApplicationURL   string          `json:"applicationUrl,omitempty"`
	Status           Status          `json:"status"`
	Priority         int             `json:"priority"`
	ResponseMetadata json.RawMessage `json:"responseMetadata"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
	Events           []Event         `json:"events,omitempty"`
}

// Event is an immutable entry of an application's audit trail.
type Event struct {
	ID            string          `json:"id"`
	ApplicationID string          `json:"applicationId"`
	Type          EventType       `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurredAt"`
}

// Change is a status write together with the event appended in the same
// transaction. A nil Response clears responseMetadata.
type Change struct {
	To       Status
	Response json.RawMessage
	Event    Event
}

// RecentEvents is how many events List attaches to each application.
const RecentEvents = 5

// Store persists applications and their events. Implementations must apply a
// Transition's read, status write and event append atomically.
type Store interface {
	// Create inserts app with its first event. Returns ErrPostingNotFound when
	// the referenced posting does not exist.
	Create(ctx context.Context, app Application, first Event) error
	// Get loads one application with its full event history, oldest first.
	Get(ctx context.Context, id string) (Application, error)
	// List returns a user's applications by priority then recency, each with
	// its RecentEvents newest events.
	List(ctx context.Context, userID string) ([]Application, error)
	// Events returns the history of one application, oldest first.
	Events(ctx context.Context, id string) ([]Event, error)
	// Transition locks the row, hands it to decide and persists the result.
	Transition(ctx context.Context, id string, decide func(Application) (Change, error)) (Application, error)
	// AppendEvent adds an event without touching status.
	AppendEvent(ctx context.Context, ev Event) error
	// Reorder assigns priorities in one transaction; any unknown id aborts it.
	Reorder(ctx context.Context, userID string, priorities map[string]int) error
	// LatestByCompany returns the user's most recently updated application
	// whose posting's company contains company or is contained in it,
	// case-insensitively.
	LatestByCompany(ctx context.Context, userID, company string) (Application, error)
}

// ─── Sentinel errors ─────────────────────────────────────────────────────────

// ErrNotFound is returned when an application is missing or does not belong to the user.
var ErrNotFound = errors.New("application not found")

// ErrPostingNotFound is returned when creating an application for an unknown posting.
var ErrPostingNotFound = errors.New("job posting not found")

// ErrIllegalTransition wraps every rejected status change.
var ErrIllegalTransition = errors.New("illegal status transition")

// ValidationError wraps a user-facing validation message.
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }
