package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobmate/pipeline-service/internal/model"
	"jobmate/pipeline-service/internal/pipeline"
	"jobmate/pipeline-service/internal/scraper"
)

// fakeDispatcher serves canned results per board; boards in panics blow up.
type fakeDispatcher struct {
	mu      sync.Mutex
	results map[string]scraper.Result
	panics  map[string]bool
	seen    []scraper.Request
}

func (f *fakeDispatcher) Scrape(_ context.Context, req scraper.Request, _ scraper.Context) scraper.Result {
	f.mu.Lock()
	f.seen = append(f.seen, req)
	f.mu.Unlock()
	if f.panics[req.Board] {
		panic(errors.New("browser crashed"))
	}
	return f.results[req.Board]
}

func posting(source, company, title, location, url, salary, desc string) model.ScrapedPosting {
	p := model.ScrapedPosting{
		Source:         source,
		Company:        company,
		Title:          title,
		ApplicationURL: url,
		Description:    desc,
	}
	if location != "" {
		p.Location = model.Ptr(location)
	}
	if salary != "" {
		p.Salary = model.ParseSalary(salary)
	}
	return p
}

// ── GatherJobs ──────────────────────────────────────────────────────────────

func TestGatherJobs_PartialFailureIsolation(t *testing.T) {
	d := &fakeDispatcher{
		results: map[string]scraper.Result{
			"linkedin": {Postings: []model.ScrapedPosting{posting("LinkedIn", "Acme", "Engineer", "Remote", "https://x/1", "", "a")}},
			"glassdoor": {
				Postings: []model.ScrapedPosting{posting("Glassdoor", "Globex", "SRE", "Austin, TX", "https://x/2", "", "b")},
				Errors:   []string{"glassdoor page 2: timeout"},
			},
		},
		panics: map[string]bool{"indeed": true},
	}

	batch := pipeline.GatherJobs(context.Background(), d, pipeline.Query{Query: "engineer"}, scraper.Context{}, nil)

	assert.Len(t, batch.Postings, 2)
	assert.Len(t, batch.Boards, 3)
	assert.ElementsMatch(t, []string{
		"failed to scrape indeed: panic: browser crashed",
		"glassdoor page 2: timeout",
	}, batch.Errors)
}

func TestGatherJobs_PassesQueryToEveryBoard(t *testing.T) {
	d := &fakeDispatcher{results: map[string]scraper.Result{}}

	pipeline.GatherJobs(context.Background(), d,
		pipeline.Query{Query: "go", Location: "Remote", MaxResults: 50},
		scraper.Context{}, []string{"indeed", "adzuna"})

	require.Len(t, d.seen, 2)
	for _, req := range d.seen {
		assert.Equal(t, "go", req.Query)
		assert.Equal(t, "Remote", req.Location)
		assert.Equal(t, 50, req.MaxResults)
	}
}

func TestGatherJobs_CancelledContextBecomesBoardErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := &fakeDispatcher{results: map[string]scraper.Result{}}

	batch := pipeline.GatherJobs(ctx, d, pipeline.Query{Query: "go"}, scraper.Context{}, []string{"indeed"})

	assert.Empty(t, batch.Postings)
	require.Len(t, batch.Errors, 1)
	assert.Contains(t, batch.Errors[0], "failed to scrape indeed")
	assert.Empty(t, d.seen)
}

func TestGatherJobs_Idempotent(t *testing.T) {
	d := &fakeDispatcher{results: map[string]scraper.Result{
		"linkedin": {Postings: []model.ScrapedPosting{
			posting("LinkedIn", "Acme", "Engineer", "Remote", "https://x/1", "", "a"),
			posting("LinkedIn", "Acme", "Engineer", "Remote", "https://x/1", "", "a"),
		}},
		"indeed": {Postings: []model.ScrapedPosting{
			posting("Indeed", "ACME", " engineer ", "remote", "https://x/1", "$100k", "a"),
		}},
	}}

	first := pipeline.GatherJobs(context.Background(), d, pipeline.Query{Query: "x"}, scraper.Context{}, []string{"linkedin", "indeed"})
	second := pipeline.GatherJobs(context.Background(), d, pipeline.Query{Query: "x"}, scraper.Context{}, []string{"linkedin", "indeed"})

	require.Len(t, first.Postings, 1)
	assert.Equal(t, first.Postings, second.Postings)
	assert.Equal(t, pipeline.Dedup(first.Postings), first.Postings)
}

// ── Dedup ───────────────────────────────────────────────────────────────────

func TestDedup_PrefersSalariedRecord(t *testing.T) {
	bare := posting("LinkedIn", "Acme", "Engineer", "Remote", "https://x/1", "", "")
	paid := posting("Indeed", "Acme", "Engineer", "Remote", "https://x/1", "$100k", "")

	out := pipeline.Dedup([]model.ScrapedPosting{bare, paid})

	require.Len(t, out, 1)
	assert.Equal(t, "$100k", out[0].Salary.Text)

	// order does not matter
	out = pipeline.Dedup([]model.ScrapedPosting{paid, bare})
	require.Len(t, out, 1)
	assert.Equal(t, "$100k", out[0].Salary.Text)
}

func TestDedup_BothSalariedPrefersLongerDescription(t *testing.T) {
	short := posting("A", "Acme", "Engineer", "Remote", "https://x/1", "$100k", "short")
	long := posting("B", "Acme", "Engineer", "Remote", "https://x/1", "$90k", "a much longer description")

	out := pipeline.Dedup([]model.ScrapedPosting{short, long})

	require.Len(t, out, 1)
	assert.Equal(t, "B", out[0].Source)
}

func TestDedup_NeitherSalariedKeepsFirst(t *testing.T) {
	a := posting("A", "Acme", "Engineer", "", "https://x/1", "", "short")
	b := posting("B", "Acme", "Engineer", "", "https://x/1", "", "a much longer description")

	out := pipeline.Dedup([]model.ScrapedPosting{a, b})

	require.Len(t, out, 1)
	assert.Equal(t, "A", out[0].Source)
}

func TestDedup_DistinctKeysSurvive(t *testing.T) {
	out := pipeline.Dedup([]model.ScrapedPosting{
		posting("A", "Acme", "Engineer", "Remote", "https://x/1", "", ""),
		posting("A", "Acme", "Engineer", "Berlin", "https://x/1", "", ""),
		posting("A", "Acme", "Engineer", "Remote", "https://x/2", "", ""),
		posting("A", "Acme", "Engineer", "", "https://x/1", "", ""),
	})
	assert.Len(t, out, 4)
}

func TestKey_NormalisesCaseAndWhitespace(t *testing.T) {
	a := posting("A", "  Acme   Corp ", "Senior  Engineer", "New York", "https://x/1", "", "")
	b := posting("B", "acme corp", "senior engineer", "new   york", "HTTPS://X/1", "", "")
	assert.Equal(t, pipeline.Key(a), pipeline.Key(b))
}

// ── Grouping and red flags ──────────────────────────────────────────────────

func TestGroupBySource(t *testing.T) {
	keys, groups := pipeline.GroupBySource([]model.ScrapedPosting{
		{Source: "LinkedIn"}, {Source: "Indeed"}, {Source: "linkedin"},
	})
	assert.Equal(t, []string{"indeed", "linkedin"}, keys)
	assert.Len(t, groups["linkedin"], 2)
}

func TestFilterRedFlags(t *testing.T) {
	in := []model.ScrapedPosting{
		posting("A", "Acme", "Engineer", "", "https://x/1", "", "Unpaid internship"),
		posting("A", "Crypto Scam Ltd", "Engineer", "", "https://x/2", "", ""),
		posting("A", "Globex", "Engineer", "", "https://x/3", "", "Great team"),
	}

	kept, dropped := pipeline.FilterRedFlags(in, []string{"UNPAID", "", "scam"})

	assert.Equal(t, 2, dropped)
	require.Len(t, kept, 1)
	assert.Equal(t, "Globex", kept[0].Company)

	kept, dropped = pipeline.FilterRedFlags(in, nil)
	assert.Len(t, kept, 3)
	assert.Zero(t, dropped)
}
