// Package model defines the posting and search types shared by the scrapers,
// the scrape pipeline and the job store.
package model

import (
	"errors"
	"net/url"
	"strings"
	"time"
)

// Application methods reported by scrapers.
const (
	MethodExternal  = "EXTERNAL"
	MethodEasyApply = "EASY_APPLY"
)

// Work arrangements stored with a JobPosting.
const (
	ArrangementRemote = "REMOTE"
	ArrangementHybrid = "HYBRID"
	ArrangementOnsite = "ONSITE"
)

// Salary is the compensation a source disclosed. Text is the raw label as
// scraped ("$120k - $150k"); Min/Max are set when the source supplies
// structured numbers or the text could be parsed.
type Salary struct {
	Text     string   `json:"text,omitempty"`
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
	Currency string   `json:"currency,omitempty"`
}

// Present reports whether any salary information is available.
func (s Salary) Present() bool {
	return strings.TrimSpace(s.Text) != "" || s.Min != nil || s.Max != nil
}

// ScrapedPosting is a normalised offer produced by a Scraper. It is never
// mutated after the scraper returns it.
type ScrapedPosting struct {
	Source            string         `json:"source"`
	ExternalID        string         `json:"externalId,omitempty"`
	Title             string         `json:"title"`
	Company           string         `json:"company"`
	Location          *string        `json:"location"`
	Salary            Salary         `json:"salary"`
	Description       string         `json:"description"`
	Requirements      []string       `json:"requirements"`
	Benefits          []string       `json:"benefits"`
	ApplicationURL    string         `json:"applicationUrl"`
	ApplicationMethod string         `json:"applicationMethod,omitempty"`
	PostedAt          *time.Time     `json:"postedAt"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// Validate reports records a scraper must drop instead of emitting.
func (p ScrapedPosting) Validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return errors.New("posting has no title")
	}
	if strings.TrimSpace(p.Company) == "" {
		return errors.New("posting has no company")
	}
	u, err := url.Parse(p.ApplicationURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return errors.New("posting has no absolute application url")
	}
	return nil
}

// LocationText returns the location or "" when the source omitted it.
func (p ScrapedPosting) LocationText() string {
	if p.Location == nil {
		return ""
	}
	return *p.Location
}

// JobPosting is the durable, deduplicated form of a ScrapedPosting, unique on
// (Board, ExternalID).
type JobPosting struct {
	ID                string         `json:"id"`
	Board             string         `json:"board"`
	ExternalID        string         `json:"externalId"`
	Title             string         `json:"title"`
	Company           string         `json:"company"`
	Location          *string        `json:"location"`
	WorkArrangement   string         `json:"workArrangement"`
	SalaryText        string         `json:"salaryText,omitempty"`
	SalaryMin         *float64       `json:"salaryMin,omitempty"`
	SalaryMax         *float64       `json:"salaryMax,omitempty"`
	Description       string         `json:"description"`
	Requirements      []string       `json:"requirements"`
	Benefits          []string       `json:"benefits"`
	Tags              []string       `json:"tags"`
	ApplicationURL    string         `json:"applicationUrl"`
	ApplicationMethod string         `json:"applicationMethod,omitempty"`
	PostedAt          *time.Time     `json:"postedAt"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

// Remote reports whether the posting is fully remote.
func (j JobPosting) Remote() bool { return j.WorkArrangement == ArrangementRemote }

// SearchConfig mirrors the search_configs table row relevant to scraping.
type SearchConfig struct {
	ID           string
	UserID       string
	JobTitles    []string
	Locations    []string
	RemotePolicy string
	Keywords     []string // must-have tech/role keywords used to narrow search
	RedFlags     []string // exclusion terms; any match discards the offer
	SalaryMin    *int
	SalaryMax    *int
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }
