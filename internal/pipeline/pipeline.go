// Package pipeline fans a search out to every configured board, collects
// partial results and partial failures, and merges duplicate postings.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"jobmate/pipeline-service/internal/model"
	"jobmate/pipeline-service/internal/scraper"
)

// DefaultBoards is used when a caller names no boards.
var DefaultBoards = []string{"linkedin", "indeed", "glassdoor"}

// Dispatcher routes one board request to a scraper. *scraper.Registry
// implements it.
type Dispatcher interface {
	Scrape(ctx context.Context, req scraper.Request, sc scraper.Context) scraper.Result
}

// Query is the board-independent part of a scrape request.
type Query struct {
	Query      string
	Location   string
	Cursor     string
	MaxResults int
}

// BoardResult is the settled outcome of one board branch.
type BoardResult struct {
	Board    string
	Result   scraper.Result
	Err      error
	Duration time.Duration
}

// Batch is the aggregate of one GatherJobs call. Postings are deduplicated;
// Errors holds every source error of every board.
type Batch struct {
	Postings []model.ScrapedPosting
	Errors   []string
	Boards   []BoardResult
}

// GatherJobs scrapes every board concurrently and waits for all of them to
// settle. A board that fails or panics contributes an error entry and never
// affects its siblings.
func GatherJobs(ctx context.Context, d Dispatcher, q Query, sc scraper.Context, boards []string) Batch {
	if len(boards) == 0 {
		boards = DefaultBoards
	}

	results := make([]BoardResult, len(boards))
	var g errgroup.Group
	for i, board := range boards {
		g.Go(func() error {
			results[i] = scrapeBoard(ctx, d, board, q, sc)
			return nil
		})
	}
	_ = g.Wait()

	var (
		all  []model.ScrapedPosting
		errs []string
	)
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Sprintf("failed to scrape %s: %v", r.Board, r.Err))
			continue
		}
		all = append(all, r.Result.Postings...)
		errs = append(errs, r.Result.Errors...)
	}

	out := Dedup(all)
	slog.Info("gather complete",
		"component", "pipeline",
		"query", q.Query, "location", q.Location,
		"boards", len(boards), "scraped", len(all), "unique", len(out), "errors", len(errs))

	return Batch{Postings: out, Errors: errs, Boards: results}
}

func scrapeBoard(ctx context.Context, d Dispatcher, board string, q Query, sc scraper.Context) (br BoardResult) {
	br.Board = board
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			br.Err = fmt.Errorf("panic: %v", rec)
		}
		br.Duration = time.Since(start)
	}()

	if err := ctx.Err(); err != nil {
		br.Err = err
		return br
	}
	br.Result = d.Scrape(ctx, scraper.Request{
		Board:      board,
		Query:      q.Query,
		Location:   q.Location,
		Cursor:     q.Cursor,
		MaxResults: q.MaxResults,
	}, sc)
	return br
}
