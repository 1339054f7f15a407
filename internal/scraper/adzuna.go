package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"jobmate/pipeline-service/internal/model"
)

const (
	adzunaBaseURL  = "https://api.adzuna.com/v1/api/jobs"
	adzunaPageSize = 50
)

// Adzuna fetches job offers from the Adzuna public API.
// Without AppID/AppKey every scrape returns an error entry instead of calling out.
type Adzuna struct {
	Base
	AppID   string
	AppKey  string
	Country string // "fr", "gb", "us", …
	baseURL string
}

// NewAdzuna constructs the Adzuna scraper.
func NewAdzuna(limiter *HostLimiter, appID, appKey, country string) *Adzuna {
	return &Adzuna{
		Base:    newBase(limiter, "adzuna", "adzuna.com"),
		AppID:   appID,
		AppKey:  appKey,
		Country: country,
		baseURL: adzunaBaseURL,
	}
}

func (s *Adzuna) Name() string { return "adzuna" }

// adzunaResponse mirrors the top-level Adzuna JSON response.
type adzunaResponse struct {
	Results []adzunaResult `json:"results"`
	Count   int            `json:"count"`
}

// adzunaResult mirrors a single Adzuna job listing.
type adzunaResult struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Description  string         `json:"description"`
	Company      adzunaName     `json:"company"`
	Location     adzunaName     `json:"location"`
	Category     adzunaCategory `json:"category"`
	SalaryMin    float64        `json:"salary_min"`
	SalaryMax    float64        `json:"salary_max"`
	RedirectURL  string         `json:"redirect_url"`
	Created      string         `json:"created"`
	ContractTime string         `json:"contract_time"`
	ContractType string         `json:"contract_type"`
}

type adzunaName struct {
	DisplayName string `json:"display_name"`
}

type adzunaCategory struct {
	Label string `json:"label"`
}

// Scrape pages through results starting at the page containing the cursor
// offset until the limit is reached or a short page signals the end.
func (s *Adzuna) Scrape(ctx context.Context, req Request, sc Context) Result {
	if s.AppID == "" || s.AppKey == "" {
		return Result{Errors: []string{"adzuna: ADZUNA_APP_ID / ADZUNA_APP_KEY not set"}}
	}

	limit := req.Limit()
	offset := req.Offset()
	log := slog.With("component", "scraper", "board", s.Name())

	res := Result{Postings: make([]model.ScrapedPosting, 0, limit)}
	skip := offset % adzunaPageSize
	for page := offset/adzunaPageSize + 1; len(res.Postings) < limit; page++ {
		batch, err := s.fetchPage(ctx, sc, req, page)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("adzuna page %d: %v", page, err))
			break
		}
		full := len(batch) == adzunaPageSize
		batch = batch[min(skip, len(batch)):]
		skip = 0
		for _, r := range batch {
			p := r.posting(s.Country)
			if err := p.Validate(); err != nil {
				log.Debug("dropping malformed result", "id", r.ID, "err", err)
				continue
			}
			res.Postings = append(res.Postings, p)
		}
		if !full {
			break // Last page
		}
	}

	if len(res.Postings) > limit {
		res.Postings = res.Postings[:limit]
	}
	res.NextCursor = nextCursor(offset, len(res.Postings), limit)
	return res
}

func (s *Adzuna) fetchPage(ctx context.Context, sc Context, req Request, page int) ([]adzunaResult, error) {
	endpoint := fmt.Sprintf("%s/%s/search/%d", s.baseURL, s.Country, page)

	params := url.Values{}
	params.Set("app_id", s.AppID)
	params.Set("app_key", s.AppKey)
	params.Set("results_per_page", strconv.Itoa(adzunaPageSize))
	params.Set("what", req.Query)
	if req.Location != "" {
		params.Set("where", req.Location)
	}
	params.Set("content-type", "application/json")
	params.Set("sort_by", "date")

	body, err := s.fetch(ctx, sc, endpoint+"?"+params.Encode(), map[string]string{"Accept": "application/json"})
	if err != nil {
		return nil, err
	}

	var apiResp adzunaResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("json unmarshal: %w", err)
	}
	return apiResp.Results, nil
}

func (r adzunaResult) posting(country string) model.ScrapedPosting {
	currency := ""
	switch country {
	case "gb":
		currency = "GBP"
	case "us":
		currency = "USD"
	case "fr", "de", "nl", "it", "es", "at":
		currency = "EUR"
	}

	p := model.ScrapedPosting{
		Source:            "Adzuna",
		ExternalID:        r.ID,
		Title:             r.Title,
		Company:           r.Company.DisplayName,
		Location:          optional(r.Location.DisplayName),
		Salary:            model.SalaryRange(r.SalaryMin, r.SalaryMax, currency),
		Description:       r.Description,
		Requirements:      []string{},
		Benefits:          []string{},
		ApplicationURL:    r.RedirectURL,
		ApplicationMethod: model.MethodExternal,
		Metadata:          map[string]any{},
	}
	if r.Created != "" {
		if t, err := time.Parse(time.RFC3339, r.Created); err == nil {
			p.PostedAt = &t
		}
	}
	if r.ContractType != "" {
		p.Metadata["contractType"] = r.ContractType
	}
	if r.ContractTime != "" {
		p.Metadata["contractTime"] = r.ContractTime
	}
	if r.Category.Label != "" {
		p.Metadata["category"] = r.Category.Label
	}
	return p
}
