package jobstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"jobmate/pipeline-service/internal/model"
)

const postingColumns = `id::text, board, external_id, title, company, location, work_arrangement,
	salary_text, salary_min, salary_max, description, requirements, benefits, tags,
	application_url, application_method, posted_at, metadata, created_at, updated_at`

// Postgres is the pgx-backed Store.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres returns a Store over pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// UpsertPosting inserts or updates the (board, externalID) row. Concurrent
// writers serialise on the unique constraint; the last one wins.
func (s *Postgres) UpsertPosting(ctx context.Context, board, externalID string, f Fields) (model.JobPosting, error) {
	metadata := f.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO job_postings (id, board, external_id, title, company, location, work_arrangement,
		                           salary_text, salary_min, salary_max, description, requirements, benefits, tags,
		                           application_url, application_method, posted_at, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		 ON CONFLICT (board, external_id) DO UPDATE SET
		   title              = EXCLUDED.title,
		   company            = EXCLUDED.company,
		   location           = EXCLUDED.location,
		   work_arrangement   = EXCLUDED.work_arrangement,
		   salary_text        = EXCLUDED.salary_text,
		   salary_min         = EXCLUDED.salary_min,
		   salary_max         = EXCLUDED.salary_max,
		   description        = EXCLUDED.description,
		   requirements       = EXCLUDED.requirements,
		   benefits           = EXCLUDED.benefits,
		   tags               = EXCLUDED.tags,
		   application_url    = EXCLUDED.application_url,
		   application_method = EXCLUDED.application_method,
		   posted_at          = EXCLUDED.posted_at,
		   metadata           = EXCLUDED.metadata,
		   updated_at         = NOW()
		 RETURNING `+postingColumns,
		uuid.NewString(), board, externalID, f.Title, f.Company, f.Location, f.WorkArrangement,
		f.SalaryText, f.SalaryMin, f.SalaryMax, f.Description, orEmpty(f.Requirements), orEmpty(f.Benefits), orEmpty(f.Tags),
		f.ApplicationURL, f.ApplicationMethod, f.PostedAt, metadata,
	)
	p, err := scanPosting(row)
	if err != nil {
		return model.JobPosting{}, fmt.Errorf("upsertPosting: %w", err)
	}
	return p, nil
}

// FindPostings returns postings matching f, newest first.
func (s *Postgres) FindPostings(ctx context.Context, f Filter) ([]model.JobPosting, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+postingColumns+`
		 FROM job_postings
		 WHERE ($1 = '' OR title ILIKE '%' || $1 || '%' OR company ILIKE '%' || $1 || '%' OR description ILIKE '%' || $1 || '%')
		   AND ($2 = '' OR location ILIKE '%' || $2 || '%')
		   AND ($3 = '' OR board = $3)
		   AND (NOT $4 OR work_arrangement = 'REMOTE')
		   AND ($5::timestamptz IS NULL OR posted_at >= $5)
		   AND ($6 = '' OR lower($6) = ANY(tags))
		   AND ($7::float8 = 0 OR salary_min IS NULL OR salary_min >= $7)
		   AND ($8::float8 = 0 OR salary_max IS NULL OR salary_max <= $8)
		 ORDER BY posted_at DESC NULLS LAST, created_at DESC
		 LIMIT $9`,
		f.Query, f.Location, f.Board, f.RemoteOnly, f.postedSince(time.Now()),
		f.EmploymentType, f.MinSalary, f.MaxSalary, f.limit(),
	)
	if err != nil {
		return nil, fmt.Errorf("findPostings query: %w", err)
	}
	defer rows.Close()

	out := make([]model.JobPosting, 0)
	for rows.Next() {
		p, err := scanPosting(rows)
		if err != nil {
			return nil, fmt.Errorf("findPostings scan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetPosting loads one posting by id.
func (s *Postgres) GetPosting(ctx context.Context, id string) (model.JobPosting, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.JobPosting{}, ErrNotFound
	}
	p, err := scanPosting(s.pool.QueryRow(ctx, `SELECT `+postingColumns+` FROM job_postings WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.JobPosting{}, ErrNotFound
	}
	if err != nil {
		return model.JobPosting{}, fmt.Errorf("getPosting: %w", err)
	}
	return p, nil
}

func scanPosting(row pgx.Row) (model.JobPosting, error) {
	var p model.JobPosting
	err := row.Scan(
		&p.ID, &p.Board, &p.ExternalID, &p.Title, &p.Company, &p.Location, &p.WorkArrangement,
		&p.SalaryText, &p.SalaryMin, &p.SalaryMax, &p.Description, &p.Requirements, &p.Benefits, &p.Tags,
		&p.ApplicationURL, &p.ApplicationMethod, &p.PostedAt, &p.Metadata, &p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}
