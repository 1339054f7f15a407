package tasks

import (
	"context"
	"errors"
	"fmt"

	"jobmate/pipeline-service/internal/jobstore"
	"jobmate/pipeline-service/internal/matching"
	"jobmate/pipeline-service/internal/model"
	"jobmate/pipeline-service/internal/pipeline"
	"jobmate/pipeline-service/internal/profile"
	"jobmate/pipeline-service/internal/queue"
)

// DefaultScrapeMaxResults applies to ad-hoc scrapes that name no limit.
const DefaultScrapeMaxResults = 40

// Scrape runs one search across its boards, drops red-flagged postings and
// upserts the rest. A task carrying a user id also drops what that user's
// profile excludes. Board failures are logged and never fail the task; a
// store failure does, so the task is retried.
func (w *Workers) Scrape(ctx context.Context, t queue.Task) error {
	var p ScrapePayload
	if err := t.Decode(&p); err != nil {
		return fmt.Errorf("decode scrape payload: %w", err)
	}
	if p.Query == "" {
		return errors.New("scrape task has no query")
	}
	if p.MaxResults <= 0 {
		p.MaxResults = DefaultScrapeMaxResults
	}
	log := w.log.With("task_id", t.ID, "query", p.Query, "location", p.Location)

	var (
		prof   matching.Profile
		scoped bool
	)
	if p.UserID != "" && w.Profiles != nil {
		var err error
		prof, err = w.Profiles.BuildMatchProfile(ctx, p.UserID)
		switch {
		case errors.Is(err, profile.ErrNotFound):
			log.Warn("no profile for user scrape, ingesting unscoped", "user_id", p.UserID)
		case err != nil:
			return fmt.Errorf("load profile %s: %w", p.UserID, err)
		default:
			scoped = true
			log = log.With("user_id", p.UserID)
		}
	}

	batch := pipeline.GatherJobs(ctx, w.Boards, pipeline.Query{
		Query:      p.Query,
		Location:   p.Location,
		MaxResults: p.MaxResults,
	}, w.Scraper, p.Boards)
	for _, e := range batch.Errors {
		log.Warn("source error", "err", e)
	}

	kept, flagged := pipeline.FilterRedFlags(batch.Postings, p.RedFlags)
	if scoped {
		var excluded int
		kept, excluded = excludeForProfile(kept, prof)
		flagged += excluded
	}
	stats, err := jobstore.Ingest(ctx, w.Jobs, kept)
	if err != nil {
		return fmt.Errorf("ingest scrape results: %w", err)
	}

	attrs := []any{
		"unique", len(batch.Postings), "filtered", flagged,
		"upserted", stats.Upserted, "source_errors", len(batch.Errors),
	}
	if scoped {
		m := w.Matcher
		if m == nil {
			m = matching.New()
		}
		matches := matching.Passing(m.Rank(prof, stats.Stored, matching.DefaultThreshold))
		attrs = append(attrs, "matches", len(matches))
	}
	log.Info("scrape done", attrs...)
	return nil
}

// excludeForProfile drops postings the user's exclusion rules reject.
func excludeForProfile(postings []model.ScrapedPosting, prof matching.Profile) ([]model.ScrapedPosting, int) {
	kept := make([]model.ScrapedPosting, 0, len(postings))
	for _, p := range postings {
		fields := jobstore.FieldsFrom(p)
		if _, excluded := matching.Excluded(prof, matching.Posting{
			Title:        fields.Title,
			Company:      fields.Company,
			Requirements: fields.Requirements,
			Tags:         fields.Tags,
		}); excluded {
			continue
		}
		kept = append(kept, p)
	}
	return kept, len(postings) - len(kept)
}
