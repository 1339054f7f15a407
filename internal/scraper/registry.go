package scraper

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Registry is an ordered list of scrapers. Dispatch goes to the first one
// whose CanHandle accepts the board.
type Registry struct {
	mu       sync.RWMutex
	scrapers []Scraper
}

// NewRegistry returns a registry holding scrapers in the given order.
func NewRegistry(scrapers ...Scraper) *Registry {
	return &Registry{scrapers: scrapers}
}

// Register appends s; earlier registrations keep precedence.
func (r *Registry) Register(s Scraper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scrapers = append(r.scrapers, s)
}

// Scrapers returns the registered scrapers in dispatch order.
func (r *Registry) Scrapers() []Scraper {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Scraper, len(r.scrapers))
	copy(out, r.scrapers)
	return out
}

// Lookup returns the scraper that would serve board, or nil.
func (r *Registry) Lookup(board string) Scraper {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.scrapers {
		if s.CanHandle(board) {
			return s
		}
	}
	return nil
}

// Scrape dispatches req to the scraper for req.Board. An unknown board yields
// an empty result carrying a descriptive error.
func (r *Registry) Scrape(ctx context.Context, req Request, sc Context) Result {
	s := r.Lookup(req.Board)
	if s == nil {
		return Result{Errors: []string{fmt.Sprintf("no scraper available for %s", req.Board)}}
	}
	req.Board = strings.ToLower(strings.TrimSpace(req.Board))
	return s.Scrape(ctx, req, sc)
}
