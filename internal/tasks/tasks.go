// Package tasks holds the queue workers of the pipeline and the producers
// that feed them: scraping, application submission and notifications.
package tasks

import (
	"fmt"
	"log/slog"

	"jobmate/pipeline-service/internal/applications"
	"jobmate/pipeline-service/internal/jobstore"
	"jobmate/pipeline-service/internal/matching"
	"jobmate/pipeline-service/internal/notify"
	"jobmate/pipeline-service/internal/pipeline"
	"jobmate/pipeline-service/internal/profile"
	"jobmate/pipeline-service/internal/queue"
	"jobmate/pipeline-service/internal/scraper"
)

// Queue names.
const (
	QueueScraping      = "scraping"
	QueueApplications  = "applications"
	QueueNotifications = "notifications"
)

// DefaultConcurrency is the worker slot count of each queue.
var DefaultConcurrency = map[string]int{
	QueueScraping:      2,
	QueueApplications:  3,
	QueueNotifications: 5,
}

// ScrapePayload is the body of a scraping task.
type ScrapePayload struct {
	Query      string   `json:"query"`
	Location   string   `json:"location,omitempty"`
	Boards     []string `json:"boards,omitempty"`
	MaxResults int      `json:"maxResults,omitempty"`
	RedFlags   []string `json:"redFlags,omitempty"`
	SearchID   string   `json:"searchId,omitempty"`
	// UserID scopes the scrape to one user: their profile exclusions are
	// applied before ingest and the stored postings are ranked for them.
	UserID string `json:"userId,omitempty"`
}

// SubmissionPayload is the body of an applications task.
type SubmissionPayload struct {
	ApplicationID string `json:"applicationId"`
}

// Workers bundles the collaborators of every queue worker.
type Workers struct {
	Boards    pipeline.Dispatcher
	Jobs      jobstore.Store
	Apps      *applications.Service
	Submitter Submitter
	Notifier  notify.Dispatcher
	Scraper   scraper.Context // proxy and CAPTCHA credentials for every scrape
	Profiles  profile.Provider
	Matcher   *matching.Matcher

	log *slog.Logger
}

// Register attaches the three workers to m. concurrency overrides
// DefaultConcurrency per queue name.
func (w *Workers) Register(m *queue.Manager, concurrency map[string]int) error {
	if w.log == nil {
		w.log = slog.With("component", "worker")
	}
	if w.Submitter == nil {
		w.Submitter = DelaySubmitter{Delay: DefaultSubmitDelay}
	}
	if w.Notifier == nil {
		w.Notifier = notify.LogDispatcher{}
	}
	if w.Matcher == nil {
		w.Matcher = matching.New()
	}

	workers := []struct {
		queue string
		run   queue.Processor
	}{
		{QueueScraping, w.Scrape},
		{QueueApplications, w.Submit},
		{QueueNotifications, w.Notify},
	}
	for _, wk := range workers {
		n := DefaultConcurrency[wk.queue]
		if c, ok := concurrency[wk.queue]; ok && c > 0 {
			n = c
		}
		if err := m.Register(wk.queue, n, wk.run); err != nil {
			return fmt.Errorf("register %s worker: %w", wk.queue, err)
		}
	}
	return nil
}
