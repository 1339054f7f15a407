package profile

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"jobmate/pipeline-service/internal/matching"
	"jobmate/pipeline-service/internal/model"
)

// Postgres reads profiles, skills and saved searches from the shared database.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// BuildMatchProfile joins the user's preferences with their skill rows.
func (p *Postgres) BuildMatchProfile(ctx context.Context, userID string) (matching.Profile, error) {
	out := matching.Profile{UserID: userID}
	var years, minSalary, maxSalary *float64

	err := p.pool.QueryRow(ctx,
		`SELECT total_years_experience, preferred_locations, minimum_salary, maximum_salary,
		        remote_preferred, excluded_companies, excluded_keywords
		 FROM user_profiles WHERE user_id = $1`,
		userID,
	).Scan(&years, &out.PreferredLocations, &minSalary, &maxSalary,
		&out.RemotePreferred, &out.ExcludedCompanies, &out.ExcludedKeywords)
	if errors.Is(err, pgx.ErrNoRows) {
		return matching.Profile{}, ErrNotFound
	}
	if err != nil {
		return matching.Profile{}, fmt.Errorf("load profile: %w", err)
	}
	if years != nil {
		out.TotalYears = *years
	}
	if minSalary != nil {
		out.MinimumSalary = *minSalary
	}
	if maxSalary != nil {
		out.MaximumSalary = *maxSalary
	}

	rows, err := p.pool.Query(ctx,
		`SELECT name, proficiency, years_experience FROM user_skills WHERE user_id = $1 ORDER BY name`,
		userID,
	)
	if err != nil {
		return matching.Profile{}, fmt.Errorf("query skills: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			s           matching.Skill
			proficiency *int
			skillYears  *float64
		)
		if err := rows.Scan(&s.Name, &proficiency, &skillYears); err != nil {
			return matching.Profile{}, fmt.Errorf("scan skill: %w", err)
		}
		if proficiency != nil {
			s.Proficiency = *proficiency
		}
		if skillYears != nil {
			s.Years = *skillYears
		}
		out.Skills = append(out.Skills, s)
	}
	return out, rows.Err()
}

func (p *Postgres) UserIDByEmail(ctx context.Context, email string) (string, error) {
	var id string
	err := p.pool.QueryRow(ctx,
		`SELECT user_id FROM user_profiles WHERE lower(email) = lower($1)`, email,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup email: %w", err)
	}
	return id, nil
}

func (p *Postgres) EmailFor(ctx context.Context, userID string) (string, error) {
	var email string
	err := p.pool.QueryRow(ctx,
		`SELECT email FROM user_profiles WHERE user_id = $1 AND email IS NOT NULL`, userID,
	).Scan(&email)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup email for %s: %w", userID, err)
	}
	return email, nil
}

// ActiveSearches fetches all is_active = true search configs.
func (p *Postgres) ActiveSearches(ctx context.Context) ([]model.SearchConfig, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id::text, user_id, job_titles, locations, remote_policy, keywords, red_flags,
		        salary_min, salary_max
		 FROM search_configs
		 WHERE is_active = true`,
	)
	if err != nil {
		return nil, fmt.Errorf("query search_configs: %w", err)
	}
	defer rows.Close()

	var configs []model.SearchConfig
	for rows.Next() {
		var c model.SearchConfig
		if err := rows.Scan(
			&c.ID, &c.UserID, &c.JobTitles, &c.Locations,
			&c.RemotePolicy, &c.Keywords, &c.RedFlags,
			&c.SalaryMin, &c.SalaryMax,
		); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		configs = append(configs, c)
	}
	return configs, rows.Err()
}
