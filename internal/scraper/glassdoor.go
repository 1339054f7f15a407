package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/PuerkitoBio/goquery"

	"jobmate/pipeline-service/internal/model"
)

const (
	glassdoorSearchURL = "https://www.glassdoor.com/Job/jobs.htm"
	glassdoorBaseURL   = "https://www.glassdoor.com"
	glassdoorPageSize  = 30
)

// Glassdoor scrapes Glassdoor search pages. Pages are 1-based; the cursor
// stays a result offset like the other boards and is mapped onto "p".
type Glassdoor struct {
	Base
	searchURL string
}

// NewGlassdoor returns the Glassdoor scraper.
func NewGlassdoor(limiter *HostLimiter) *Glassdoor {
	return &Glassdoor{Base: newBase(limiter, "glassdoor", "glassdoor.com"), searchURL: glassdoorSearchURL}
}

func (s *Glassdoor) Name() string { return "glassdoor" }

func (s *Glassdoor) Scrape(ctx context.Context, req Request, sc Context) Result {
	limit := req.Limit()
	offset := req.Offset()
	first := offset/glassdoorPageSize + 1
	pages := max(1, (limit+glassdoorPageSize-1)/glassdoorPageSize)
	log := slog.With("component", "scraper", "board", s.Name())

	res := Result{Postings: make([]model.ScrapedPosting, 0, limit)}
	for page := first; page < first+pages && len(res.Postings) < limit; page++ {
		params := url.Values{}
		params.Set("keyword", req.Query)
		if req.Location != "" {
			params.Set("locT", "C")
			params.Set("locKeyword", req.Location)
		}
		params.Set("p", strconv.Itoa(page))

		doc, err := s.document(ctx, sc, s.searchURL+"?"+params.Encode())
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("glassdoor page %d: %v", page, err))
			break
		}

		cards := doc.Find(`[data-test="jobListing"]`)
		if cards.Length() == 0 {
			break
		}
		cards.Each(func(_ int, card *goquery.Selection) {
			p := parseGlassdoorCard(card)
			if err := p.Validate(); err != nil {
				log.Debug("dropping malformed card", "err", err)
				return
			}
			res.Postings = append(res.Postings, p)
		})
		if cards.Length() < glassdoorPageSize {
			break
		}
	}

	if len(res.Postings) > limit {
		res.Postings = res.Postings[:limit]
	}
	res.NextCursor = nextCursor(offset, len(res.Postings), limit)
	return res
}

func parseGlassdoorCard(card *goquery.Selection) model.ScrapedPosting {
	link, _ := card.Find(`a[data-test="job-title"]`).First().Attr("href")
	if u, err := url.Parse(link); err == nil && !u.IsAbs() && link != "" {
		link = glassdoorBaseURL + u.String()
	}
	externalID, _ := card.Attr("data-jobid")

	p := model.ScrapedPosting{
		Source:            "Glassdoor",
		ExternalID:        externalID,
		Title:             text(card, `[data-test="job-title"]`),
		Company:           text(card, `[data-test="employerName"]`, `[data-test="employer-name"]`),
		Location:          optional(text(card, `[data-test="location"]`, `[data-test="emp-location"]`)),
		Salary:            model.ParseSalary(text(card, `[data-test="detailSalary"]`)),
		Description:       text(card, `[data-test="jobDescriptionText"]`),
		Requirements:      []string{},
		Benefits:          list(card, `[data-test="benefits"] li`),
		ApplicationURL:    link,
		ApplicationMethod: model.MethodExternal,
	}
	if rating := text(card, `[data-test="rating"]`); rating != "" {
		p.Metadata = map[string]any{"rating": rating}
	}
	return p
}
