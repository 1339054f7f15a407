package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// errChallenge is returned when a board answers with a bot check page.
var errChallenge = errors.New("blocked by captcha challenge")

var stealthHeaders = map[string]string{
	"User-Agent":      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
	"Accept-Language": "en-US,en;q=0.9",
}

// Base is the stateless helper embedded by every board scraper: the board
// aliases it answers to, request headers, the navigation timeout and the
// shared per-host limiter. It holds nothing about any particular call.
type Base struct {
	boards  []string
	limiter *HostLimiter
}

func newBase(limiter *HostLimiter, boards ...string) Base {
	return Base{boards: boards, limiter: limiter}
}

// CanHandle reports whether board is one of the aliases, case-insensitively.
func (b Base) CanHandle(board string) bool {
	return slices.Contains(b.boards, strings.ToLower(strings.TrimSpace(board)))
}

// Boards returns the aliases this scraper answers to.
func (b Base) Boards() []string { return slices.Clone(b.boards) }

// client builds a per-call HTTP client honouring the caller's proxy.
func (b Base) client(sc Context) (*http.Client, error) {
	c := &http.Client{Timeout: NavigationTimeout}
	if sc.ProxyURL == "" {
		return c, nil
	}
	proxy, err := url.Parse(sc.ProxyURL)
	if err != nil || proxy.Host == "" {
		return nil, fmt.Errorf("invalid proxy url")
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.Proxy = http.ProxyURL(proxy)
	c.Transport = tr
	return c, nil
}

// fetch GETs rawURL and returns the body. Non-2xx answers are errors.
func (b Base) fetch(ctx context.Context, sc Context, rawURL string, headers map[string]string) ([]byte, error) {
	client, err := b.client(sc)
	if err != nil {
		return nil, err
	}
	if err := b.limiter.WaitURL(ctx, rawURL); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, NavigationTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range stealthHeaders {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http GET: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
		if bytes.Contains(bytes.ToLower(body), []byte("captcha")) {
			return nil, challengeError(sc)
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s returned %d", req.URL.Host, resp.StatusCode)
	}
	return body, nil
}

// document fetches rawURL and parses it as HTML.
func (b Base) document(ctx context.Context, sc Context, rawURL string) (*goquery.Document, error) {
	body, err := b.fetch(ctx, sc, rawURL, nil)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

func challengeError(sc Context) error {
	if sc.CaptchaAPIKey == "" {
		return fmt.Errorf("%w (no solver key configured)", errChallenge)
	}
	return errChallenge
}

// text returns the collapsed text of the first match of any selector.
func text(s *goquery.Selection, selectors ...string) string {
	for _, sel := range selectors {
		if t := collapse(s.Find(sel).First().Text()); t != "" {
			return t
		}
	}
	return ""
}

// list returns the collapsed, non-empty texts of every match of selector.
func list(s *goquery.Selection, selector string) []string {
	out := make([]string, 0)
	s.Find(selector).Each(func(_ int, item *goquery.Selection) {
		if t := collapse(item.Text()); t != "" {
			out = append(out, t)
		}
	})
	return out
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
