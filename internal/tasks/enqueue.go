package tasks

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"jobmate/pipeline-service/internal/applications"
	"jobmate/pipeline-service/internal/model"
	"jobmate/pipeline-service/internal/notify"
	"jobmate/pipeline-service/internal/profile"
	"jobmate/pipeline-service/internal/queue"
)

// Scheduling defaults.
const (
	DefaultScrapeEvery        = 45 * time.Minute
	ScheduledScrapeMaxResults = 50
)

// ErrEmptyQuery rejects a scrape without a search query.
var ErrEmptyQuery = errors.New("query is required")

// Search is one recurring default scrape.
type Search struct {
	Query    string `json:"query"`
	Location string `json:"location"`
}

// DefaultSearches run for every deployment unless the config file replaces
// them.
var DefaultSearches = []Search{
	{Query: "Software Engineer", Location: "Remote"},
	{Query: "Product Manager", Location: "Remote"},
	{Query: "Data Scientist", Location: "New York, NY"},
	{Query: "DevOps Engineer", Location: "Austin, TX"},
}

// Enqueuer is the producer side of the three queues.
type Enqueuer struct {
	m   *queue.Manager
	now func() time.Time
}

func NewEnqueuer(m *queue.Manager) *Enqueuer {
	return &Enqueuer{m: m, now: time.Now}
}

// Scrape queues an ad-hoc scrape and returns the task id.
func (e *Enqueuer) Scrape(ctx context.Context, p ScrapePayload) (string, error) {
	p.Query = strings.TrimSpace(p.Query)
	p.Location = strings.TrimSpace(p.Location)
	if p.Query == "" {
		return "", ErrEmptyQuery
	}
	if p.MaxResults <= 0 {
		p.MaxResults = DefaultScrapeMaxResults
	}
	return e.m.Add(ctx, QueueScraping, scrapeName(p.Query, p.Location), p, queue.Options{})
}

// Submission queues the submission of an application. Queuing the same
// application again while its task is pending is a no-op.
func (e *Enqueuer) Submission(ctx context.Context, applicationID string) (string, error) {
	name := "application:" + applicationID
	return e.m.Add(ctx, QueueApplications, name, SubmissionPayload{ApplicationID: applicationID},
		queue.Options{JobID: name})
}

// Notification queues p for delivery.
func (e *Enqueuer) Notification(ctx context.Context, p notify.Payload) (string, error) {
	if len(p.Channels) == 0 {
		return "", errors.New("notification needs at least one channel")
	}
	name := "notification:" + strconv.FormatInt(e.now().UnixMilli(), 10)
	return e.m.Add(ctx, QueueNotifications, name, p, queue.Options{})
}

// DefaultKey is the idempotency key of a recurring default scrape.
func DefaultKey(query, location string) string {
	return "default:" + model.Slug(query) + ":" + slugOrGlobal(location)
}

// ScheduleDefaults registers each search as a recurring scrape every
// interval. Searches already registered are skipped; the count of newly
// registered entries is returned.
func (e *Enqueuer) ScheduleDefaults(ctx context.Context, searches []Search, boards []string, every time.Duration) (int, error) {
	if every <= 0 {
		every = DefaultScrapeEvery
	}
	n := 0
	for _, s := range searches {
		p := ScrapePayload{Query: s.Query, Location: s.Location, Boards: boards, MaxResults: ScheduledScrapeMaxResults}
		added, err := e.m.AddRepeatable(ctx, QueueScraping, scrapeName(s.Query, s.Location), p,
			queue.Options{JobID: DefaultKey(s.Query, s.Location), Repeat: every})
		if err != nil {
			return n, fmt.Errorf("schedule %q: %w", s.Query, err)
		}
		if added {
			n++
		}
	}
	return n, nil
}

// ScheduleSaved registers one recurring scrape per title and location of
// every active saved search. A search without locations scrapes globally.
func (e *Enqueuer) ScheduleSaved(ctx context.Context, src profile.SearchSource, boards []string, every time.Duration) (int, error) {
	configs, err := src.ActiveSearches(ctx)
	if err != nil {
		return 0, fmt.Errorf("load saved searches: %w", err)
	}
	if every <= 0 {
		every = DefaultScrapeEvery
	}
	n := 0
	for _, cfg := range configs {
		locations := cfg.Locations
		if len(locations) == 0 {
			locations = []string{""}
		}
		for _, title := range cfg.JobTitles {
			for _, loc := range locations {
				p := ScrapePayload{
					Query:      title,
					Location:   loc,
					Boards:     boards,
					MaxResults: ScheduledScrapeMaxResults,
					RedFlags:   cfg.RedFlags,
					SearchID:   cfg.ID,
				}
				key := "search:" + cfg.ID + ":" + model.Slug(title) + ":" + slugOrGlobal(loc)
				added, err := e.m.AddRepeatable(ctx, QueueScraping, scrapeName(title, loc), p,
					queue.Options{JobID: key, Repeat: every})
				if err != nil {
					return n, fmt.Errorf("schedule search %s: %w", cfg.ID, err)
				}
				if added {
					n++
				}
			}
		}
	}
	return n, nil
}

// NotifyOnOutcome returns a status hook that queues a notification when an
// application is answered or fails. Slack always receives it; email is added
// when dir knows the user's address.
func NotifyOnOutcome(e *Enqueuer, dir profile.Directory) applications.StatusHook {
	return func(ctx context.Context, app applications.Application, from applications.Status) {
		label := app.ID
		if app.JobTitle != "" {
			label = app.JobTitle
			if app.Company != "" {
				label += " at " + app.Company
			}
		}
		text := fmt.Sprintf("Application %s moved from %s to %s", label, from, app.Status)

		p := notify.Payload{
			Channels: []notify.Channel{notify.ChannelSlack},
			Slack:    &notify.Slack{Text: text},
		}
		if dir != nil {
			if to, err := dir.EmailFor(ctx, app.UserID); err == nil {
				p.Channels = append(p.Channels, notify.ChannelEmail)
				p.Email = &notify.Email{
					To:      to,
					Subject: "Update on your application: " + label,
					HTML:    "<p>" + html.EscapeString(text) + "</p>",
				}
			}
		}
		if _, err := e.Notification(ctx, p); err != nil {
			slog.Warn("queue outcome notification failed", "component", "worker", "application_id", app.ID, "err", err)
		}
	}
}

func scrapeName(query, location string) string {
	if location == "" {
		location = "global"
	}
	return "scrape:" + query + ":" + location
}

func slugOrGlobal(s string) string {
	if slug := model.Slug(s); slug != "" {
		return slug
	}
	return "global"
}
