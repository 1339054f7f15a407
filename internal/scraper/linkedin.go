package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"jobmate/pipeline-service/internal/model"
)

const (
	linkedInSearchURL = "https://www.linkedin.com/jobs-guest/jobs/api/seeMoreJobPostings/search"
	linkedInPageSize  = 25
)

// LinkedIn scrapes the unauthenticated job search fragment LinkedIn serves
// to logged-out visitors. The cursor is the "start" offset.
type LinkedIn struct {
	Base
	searchURL string
}

// NewLinkedIn returns the LinkedIn scraper.
func NewLinkedIn(limiter *HostLimiter) *LinkedIn {
	return &LinkedIn{Base: newBase(limiter, "linkedin", "linkedin.jobs"), searchURL: linkedInSearchURL}
}

func (s *LinkedIn) Name() string { return "linkedin" }

func (s *LinkedIn) Scrape(ctx context.Context, req Request, sc Context) Result {
	limit := req.Limit()
	offset := req.Offset()
	log := slog.With("component", "scraper", "board", s.Name())

	res := Result{Postings: make([]model.ScrapedPosting, 0, limit)}
	for start := offset; len(res.Postings) < limit; start += linkedInPageSize {
		params := url.Values{}
		params.Set("keywords", req.Query)
		if req.Location != "" {
			params.Set("location", req.Location)
		}
		params.Set("start", strconv.Itoa(start))

		doc, err := s.document(ctx, sc, s.searchURL+"?"+params.Encode())
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("linkedin start=%d: %v", start, err))
			break
		}

		cards := doc.Find("div.base-card, div.job-search-card")
		if cards.Length() == 0 {
			break
		}
		cards.Each(func(_ int, card *goquery.Selection) {
			p := parseLinkedInCard(card)
			if err := p.Validate(); err != nil {
				log.Debug("dropping malformed card", "err", err)
				return
			}
			res.Postings = append(res.Postings, p)
		})
		if cards.Length() < linkedInPageSize {
			break
		}
	}

	if len(res.Postings) > limit {
		res.Postings = res.Postings[:limit]
	}
	res.NextCursor = nextCursor(offset, len(res.Postings), limit)
	return res
}

func parseLinkedInCard(card *goquery.Selection) model.ScrapedPosting {
	link, _ := card.Find("a.base-card__full-link").First().Attr("href")
	if i := strings.IndexByte(link, '?'); i >= 0 {
		link = link[:i]
	}

	urn, _ := card.Attr("data-entity-urn")
	externalID := urn[strings.LastIndexByte(urn, ':')+1:]

	p := model.ScrapedPosting{
		Source:            "LinkedIn",
		ExternalID:        externalID,
		Title:             text(card, "h3.base-search-card__title"),
		Company:           text(card, "h4.base-search-card__subtitle"),
		Location:          optional(text(card, "span.job-search-card__location")),
		Salary:            model.ParseSalary(text(card, "span.job-search-card__salary-info")),
		Description:       text(card, "div.base-search-card__metadata"),
		Requirements:      []string{},
		Benefits:          list(card, "span.job-posting-benefits__text"),
		ApplicationURL:    link,
		ApplicationMethod: model.MethodExternal,
	}
	if card.Find("span.result-benefits__text").Length() > 0 {
		p.ApplicationMethod = model.MethodEasyApply
	}
	if dt, ok := card.Find("time").First().Attr("datetime"); ok {
		if t, err := time.Parse(time.DateOnly, dt); err == nil {
			p.PostedAt = &t
		}
	}
	return p
}
