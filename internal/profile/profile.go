// Package profile assembles the candidate snapshot the matching engine scores
// against, and exposes the saved searches that drive scheduled scrapes.
package profile

import (
	"context"
	"errors"
	"strings"

	"jobmate/pipeline-service/internal/matching"
	"jobmate/pipeline-service/internal/model"
)

// ErrNotFound is returned when no profile exists for the user or email.
var ErrNotFound = errors.New("profile not found")

// Provider builds a read-only match profile for one user.
type Provider interface {
	BuildMatchProfile(ctx context.Context, userID string) (matching.Profile, error)
}

// Directory maps users to their contact address and back.
type Directory interface {
	UserIDByEmail(ctx context.Context, email string) (string, error)
	EmailFor(ctx context.Context, userID string) (string, error)
}

// SearchSource lists the saved searches that should be scraped on a schedule.
type SearchSource interface {
	ActiveSearches(ctx context.Context) ([]model.SearchConfig, error)
}

// Static serves profiles configured in the config file. It is used in
// single-user local mode where no user tables exist.
type Static struct {
	Profiles map[string]matching.Profile
	Emails   map[string]string // lower-cased address -> user id
	Searches []model.SearchConfig
}

func (s *Static) BuildMatchProfile(_ context.Context, userID string) (matching.Profile, error) {
	p, ok := s.Profiles[userID]
	if !ok {
		return matching.Profile{}, ErrNotFound
	}
	p.UserID = userID
	return p, nil
}

func (s *Static) UserIDByEmail(_ context.Context, email string) (string, error) {
	id, ok := s.Emails[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return "", ErrNotFound
	}
	return id, nil
}

func (s *Static) EmailFor(_ context.Context, userID string) (string, error) {
	for email, id := range s.Emails {
		if id == userID {
			return email, nil
		}
	}
	return "", ErrNotFound
}

func (s *Static) ActiveSearches(context.Context) ([]model.SearchConfig, error) {
	return s.Searches, nil
}
