// Package jobstore persists deduplicated postings, unique on (board,
// external id). Re-scraping a posting updates it in place.
package jobstore

import (
	"context"
	"errors"
	"time"

	"jobmate/pipeline-service/internal/model"
)

// ErrNotFound is returned when a posting id does not exist.
var ErrNotFound = errors.New("job posting not found")

// DefaultLimit caps FindPostings when Filter.Limit is unset.
const DefaultLimit = 50

// Filter narrows FindPostings. Zero values mean "no constraint".
type Filter struct {
	Query            string // matched against title, company and description
	Location         string
	Board            string
	RemoteOnly       bool
	PostedWithinDays int
	// EmploymentType matches a posting tag exactly, e.g. "full_time" or
	// "contract".
	EmploymentType string
	// MinSalary drops postings whose disclosed minimum is lower; MaxSalary
	// drops those whose disclosed maximum is higher. Undisclosed bounds pass.
	MinSalary float64
	MaxSalary float64
	Limit     int
}

func (f Filter) limit() int {
	if f.Limit <= 0 {
		return DefaultLimit
	}
	return f.Limit
}

func (f Filter) postedSince(now time.Time) *time.Time {
	if f.PostedWithinDays <= 0 {
		return nil
	}
	t := now.AddDate(0, 0, -f.PostedWithinDays)
	return &t
}

// Fields are the mutable columns of a posting.
type Fields struct {
	Title             string
	Company           string
	Location          *string
	WorkArrangement   string
	SalaryText        string
	SalaryMin         *float64
	SalaryMax         *float64
	Description       string
	Requirements      []string
	Benefits          []string
	Tags              []string
	ApplicationURL    string
	ApplicationMethod string
	PostedAt          *time.Time
	Metadata          map[string]any
}

// Store is the job store boundary used by the scrape worker (writes) and the
// matching read path.
type Store interface {
	FindPostings(ctx context.Context, f Filter) ([]model.JobPosting, error)
	UpsertPosting(ctx context.Context, board, externalID string, f Fields) (model.JobPosting, error)
	GetPosting(ctx context.Context, id string) (model.JobPosting, error)
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
