package applications

import "fmt"

// EventType classifies an ApplicationEvent.
type EventType string

const (
	EventApplicationQueued   EventType = "APPLICATION_QUEUED"
	EventSubmissionStarted   EventType = "SUBMISSION_STARTED"
	EventSubmissionSucceeded EventType = "SUBMISSION_SUCCEEDED"
	EventSubmissionConfirmed EventType = "SUBMISSION_CONFIRMED"
	EventSubmissionFailed    EventType = "SUBMISSION_FAILED"
	EventResponseReceived    EventType = "RESPONSE_RECEIVED"
	EventArchived            EventType = "APPLICATION_ARCHIVED"
	EventCancelled           EventType = "APPLICATION_CANCELLED"
	EventNoteAdded           EventType = "NOTE_ADDED"
)

// statusEvents maps each destination status to the event it appends.
var statusEvents = map[Status]EventType{
	StatusQueued:               EventApplicationQueued,
	StatusSubmissionInProgress: EventSubmissionStarted,
	StatusSubmitted:            EventSubmissionSucceeded,
	StatusConfirmed:            EventSubmissionConfirmed,
	StatusFailed:               EventSubmissionFailed,
	StatusResponded:            EventResponseReceived,
	StatusArchived:             EventArchived,
	StatusCancelled:            EventCancelled,
}

// EventFor returns the event type appended when an application enters s.
func EventFor(s Status) (EventType, error) {
	t, ok := statusEvents[s]
	if !ok {
		return "", fmt.Errorf("no event type for status %q", s)
	}
	return t, nil
}

// ValidateEventTable checks that every declared status has an event type and
// that no two statuses share one. Called once at startup.
func ValidateEventTable() error {
	seen := make(map[EventType]Status, len(statusEvents))
	for _, s := range AllStatuses {
		t, ok := statusEvents[s]
		if !ok {
			return fmt.Errorf("status %s has no event type", s)
		}
		if prev, dup := seen[t]; dup {
			return fmt.Errorf("event type %s used by both %s and %s", t, prev, s)
		}
		seen[t] = s
	}
	if len(statusEvents) != len(AllStatuses) {
		return fmt.Errorf("event table has %d entries for %d statuses", len(statusEvents), len(AllStatuses))
	}
	return nil
}
