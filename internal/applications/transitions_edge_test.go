package applications_test

import (
	"strings"
	"testing"

	"jobmate/pipeline-service/internal/applications"
)

// ParseStatus must be case-sensitive: lowercase variants must not be valid.
func TestParseStatus_CaseSensitive(t *testing.T) {
	for _, s := range applications.AllStatuses {
		lower := strings.ToLower(string(s))
		if _, err := applications.ParseStatus(lower); err == nil {
			t.Errorf("ParseStatus(%q) should reject lowercase value, got nil error", lower)
		}
	}
}

// ParseStatus must reject whitespace-padded strings.
func TestParseStatus_WithWhitespace(t *testing.T) {
	padded := []string{" QUEUED", "QUEUED ", " QUEUED "}
	for _, s := range padded {
		if _, err := applications.ParseStatus(s); err == nil {
			t.Errorf("ParseStatus(%q) should reject padded value, got nil error", s)
		}
	}
}

// The pipeline cannot move FAILED, RESPONDED, ARCHIVED or CANCELLED further.
func TestIsTerminal(t *testing.T) {
	terminal := map[applications.Status]bool{
		applications.StatusFailed:    true,
		applications.StatusResponded: true,
		applications.StatusArchived:  true,
		applications.StatusCancelled: true,
	}
	for _, s := range applications.AllStatuses {
		if got := applications.IsTerminal(s); got != terminal[s] {
			t.Errorf("IsTerminal(%s) = %v, want %v", s, got, terminal[s])
		}
	}
}

// ── Event table ───────────────────────────────────────────────────────────

func TestValidateEventTable(t *testing.T) {
	if err := applications.ValidateEventTable(); err != nil {
		t.Fatalf("ValidateEventTable() = %v", err)
	}
}

func TestEventFor_KnownMappings(t *testing.T) {
	cases := map[applications.Status]applications.EventType{
		applications.StatusSubmissionInProgress: applications.EventSubmissionStarted,
		applications.StatusSubmitted:            applications.EventSubmissionSucceeded,
		applications.StatusFailed:               applications.EventSubmissionFailed,
		applications.StatusResponded:            applications.EventResponseReceived,
	}
	for s, want := range cases {
		got, err := applications.EventFor(s)
		if err != nil || got != want {
			t.Errorf("EventFor(%s) = %q, %v; want %q", s, got, err, want)
		}
	}
}

func TestEventFor_Unknown(t *testing.T) {
	if _, err := applications.EventFor("NOPE"); err == nil {
		t.Error("EventFor(\"NOPE\") expected error, got nil")
	}
}
