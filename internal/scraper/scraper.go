// Package scraper fetches raw postings from external job boards.
//
// Each board is a Scraper. Scrapers are stateless: cross-cutting settings
// (proxy, CAPTCHA credentials) travel with every call in a Context and are
// never retained. A Scraper never returns a Go error; total failure of a
// source is reported as a string in Result.Errors so one board going down
// does not disturb the others.
package scraper

import (
	"context"
	"strconv"
	"time"

	"jobmate/pipeline-service/internal/model"
)

const (
	// DefaultMaxResults caps a single scrape call when the caller does not.
	DefaultMaxResults = 40

	// NavigationTimeout bounds every page/API load.
	NavigationTimeout = 30 * time.Second
)

// Request selects what a scraper should fetch.
type Request struct {
	Board      string
	Query      string
	Location   string
	Cursor     string
	MaxResults int
}

// Limit returns MaxResults or the default when unset.
func (r Request) Limit() int {
	if r.MaxResults <= 0 {
		return DefaultMaxResults
	}
	return r.MaxResults
}

// Offset interprets Cursor as a numeric offset (0 when absent or invalid).
func (r Request) Offset() int {
	n, err := strconv.Atoi(r.Cursor)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// Context carries caller-supplied credentials for one call.
type Context struct {
	ProxyURL      string `json:"proxyUrl,omitempty"`
	CaptchaAPIKey string `json:"captchaApiKey,omitempty"`
}

// Result is what a scrape call produced. NextCursor is empty when the source
// is exhausted for the query.
type Result struct {
	Postings   []model.ScrapedPosting
	NextCursor string
	Errors     []string
}

// Scraper is one job board source.
type Scraper interface {
	Name() string
	CanHandle(board string) bool
	Scrape(ctx context.Context, req Request, sc Context) Result
}

// nextCursor returns the cursor continuing after offset when the page was full.
func nextCursor(offset, got, limit int) string {
	if got >= limit {
		return strconv.Itoa(offset + limit)
	}
	return ""
}
