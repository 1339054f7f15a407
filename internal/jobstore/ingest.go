package jobstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"jobmate/pipeline-service/internal/model"
	"jobmate/pipeline-service/internal/pipeline"
)

// IngestStats summarises one Ingest call.
type IngestStats struct {
	Upserted int            `json:"upserted"`
	PerBoard map[string]int `json:"perBoard"`

	Stored []model.JobPosting `json:"-"`
}

// Ingest persists a deduplicated batch board by board. Any store failure
// aborts the call; postings already upserted stay consistent because each
// upsert is atomic on its own.
func Ingest(ctx context.Context, s Store, postings []model.ScrapedPosting) (IngestStats, error) {
	stats := IngestStats{PerBoard: make(map[string]int)}
	sources, groups := pipeline.GroupBySource(postings)
	for _, src := range sources {
		board := BoardFor(src)
		for _, p := range groups[src] {
			j, err := s.UpsertPosting(ctx, board, ExternalID(p), FieldsFrom(p))
			if err != nil {
				return stats, fmt.Errorf("upsert %s posting %q: %w", board, p.Title, err)
			}
			stats.Stored = append(stats.Stored, j)
			stats.Upserted++
			stats.PerBoard[board]++
		}
	}
	slog.Info("ingest complete", "component", "jobstore", "upserted", stats.Upserted, "boards", len(stats.PerBoard))
	return stats, nil
}

// BoardOther is the board of postings from an unrecognised source.
const BoardOther = "other"

var boardAliases = map[string]string{
	"linkedin":      "linkedin",
	"linkedin.jobs": "linkedin",
	"indeed":        "indeed",
	"indeed.com":    "indeed",
	"glassdoor":     "glassdoor",
	"glassdoor.com": "glassdoor",
	"adzuna":        "adzuna",
}

// BoardFor maps a scraper source name to the board a posting is stored
// under. Unknown sources fall back to BoardOther.
func BoardFor(source string) string {
	if b, ok := boardAliases[strings.ToLower(strings.TrimSpace(source))]; ok {
		return b
	}
	return BoardOther
}

// ExternalID returns the source id or, when the board gave none, a stable
// id synthesised from source, title and company.
func ExternalID(p model.ScrapedPosting) string {
	if id := strings.TrimSpace(p.ExternalID); id != "" {
		return id
	}
	return model.Slug(p.Source + "-" + p.Title + "-" + p.Company)
}

// FieldsFrom maps a scraped posting to store columns.
func FieldsFrom(p model.ScrapedPosting) Fields {
	salary := p.Salary
	if salary.Min == nil && salary.Max == nil && salary.Text != "" {
		salary = model.ParseSalary(salary.Text)
	}
	text := salary.Text
	if text == "" {
		text = formatRange(salary)
	}

	return Fields{
		Title:             strings.TrimSpace(p.Title),
		Company:           strings.TrimSpace(p.Company),
		Location:          p.Location,
		WorkArrangement:   arrangement(p),
		SalaryText:        text,
		SalaryMin:         salary.Min,
		SalaryMax:         salary.Max,
		Description:       p.Description,
		Requirements:      orEmpty(p.Requirements),
		Benefits:          orEmpty(p.Benefits),
		Tags:              tags(p),
		ApplicationURL:    p.ApplicationURL,
		ApplicationMethod: p.ApplicationMethod,
		PostedAt:          p.PostedAt,
		Metadata:          p.Metadata,
	}
}

func arrangement(p model.ScrapedPosting) string {
	loc := strings.ToLower(p.LocationText() + " " + p.Title)
	switch {
	case strings.Contains(loc, "hybrid"):
		return model.ArrangementHybrid
	case strings.Contains(loc, "remote"):
		return model.ArrangementRemote
	}
	return model.ArrangementOnsite
}

func tags(p model.ScrapedPosting) []string {
	out := []string{}
	for _, k := range []string{"category", "contractType", "contractTime"} {
		if v, ok := p.Metadata[k].(string); ok && v != "" {
			out = append(out, strings.ToLower(v))
		}
	}
	return out
}

func formatRange(s model.Salary) string {
	var out string
	switch {
	case s.Min != nil && s.Max != nil:
		out = fmt.Sprintf("%.0f - %.0f %s", *s.Min, *s.Max, s.Currency)
	case s.Min != nil:
		out = fmt.Sprintf("from %.0f %s", *s.Min, s.Currency)
	case s.Max != nil:
		out = fmt.Sprintf("up to %.0f %s", *s.Max, s.Currency)
	}
	return strings.TrimSpace(out)
}
