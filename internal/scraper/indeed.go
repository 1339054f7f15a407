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
	indeedSearchURL = "https://www.indeed.com/jobs"
	indeedViewURL   = "https://www.indeed.com/viewjob?jk="
	indeedPageSize  = 15
)

// Indeed scrapes the public Indeed search result pages. The cursor is the
// result offset passed as "start".
type Indeed struct {
	Base
	searchURL string
}

// NewIndeed returns the Indeed scraper.
func NewIndeed(limiter *HostLimiter) *Indeed {
	return &Indeed{Base: newBase(limiter, "indeed", "indeed.com"), searchURL: indeedSearchURL}
}

func (s *Indeed) Name() string { return "indeed" }

func (s *Indeed) Scrape(ctx context.Context, req Request, sc Context) Result {
	limit := req.Limit()
	offset := req.Offset()
	pages := max(1, (limit+indeedPageSize-1)/indeedPageSize)
	log := slog.With("component", "scraper", "board", s.Name())

	res := Result{Postings: make([]model.ScrapedPosting, 0, limit)}
	for page := 0; page < pages && len(res.Postings) < limit; page++ {
		start := offset + page*indeedPageSize
		params := url.Values{}
		params.Set("q", req.Query)
		params.Set("limit", strconv.Itoa(indeedPageSize))
		if req.Location != "" {
			params.Set("l", req.Location)
		}
		params.Set("start", strconv.Itoa(start))

		doc, err := s.document(ctx, sc, s.searchURL+"?"+params.Encode())
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("indeed page %d: %v", page+1, err))
			break
		}

		cards := doc.Find("[data-jk]")
		if cards.Length() == 0 {
			break
		}
		cards.Each(func(_ int, card *goquery.Selection) {
			p := s.parseCard(card, start)
			if err := p.Validate(); err != nil {
				log.Debug("dropping malformed card", "err", err)
				return
			}
			res.Postings = append(res.Postings, p)
		})
		if cards.Length() < indeedPageSize {
			break
		}
	}

	if len(res.Postings) > limit {
		res.Postings = res.Postings[:limit]
	}
	res.NextCursor = nextCursor(offset, len(res.Postings), limit)
	return res
}

func (s *Indeed) parseCard(card *goquery.Selection, start int) model.ScrapedPosting {
	title := text(card, "h2 a", "h2")
	company := text(card, "span.companyName", "span.company", "[data-testid=company-name]")
	jobKey, _ := card.Attr("data-jk")
	if jobKey == "" {
		jobKey = title + "-" + company
	}

	return model.ScrapedPosting{
		Source:            "Indeed",
		ExternalID:        jobKey,
		Title:             title,
		Company:           company,
		Location:          optional(text(card, "div.companyLocation", "span.location", "[data-testid=text-location]")),
		Salary:            model.ParseSalary(text(card, "div.salary-snippet", "div.metadata.salary-snippet-container")),
		Description:       text(card, "div.job-snippet"),
		Requirements:      list(card, "div.job-snippet ul li"),
		Benefits:          list(card, ".job-snippet + div ul li"),
		ApplicationURL:    indeedViewURL + url.QueryEscape(jobKey),
		ApplicationMethod: model.MethodExternal,
		Metadata:          map[string]any{"start": start, "posted": text(card, "span.date", "span.result-date")},
	}
}
