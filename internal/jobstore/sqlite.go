package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"jobmate/pipeline-service/internal/model"
)

// TimeLayout is the fixed-width UTC layout used for every sqlite timestamp so
// that text comparison orders chronologically.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLite is the local single-node Store.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite returns a Store over an already migrated database.
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db, now: time.Now}
}

func (s *SQLite) UpsertPosting(ctx context.Context, board, externalID string, f Fields) (model.JobPosting, error) {
	reqs, _ := json.Marshal(orEmpty(f.Requirements))
	bens, _ := json.Marshal(orEmpty(f.Benefits))
	tags, _ := json.Marshal(orEmpty(f.Tags))
	meta := f.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return model.JobPosting{}, fmt.Errorf("encode metadata: %w", err)
	}
	now := s.now().UTC().Format(TimeLayout)

	row := s.db.QueryRowContext(ctx,
		`INSERT INTO job_postings (id, board, external_id, title, company, location, work_arrangement,
		                           salary_text, salary_min, salary_max, description, requirements, benefits, tags,
		                           application_url, application_method, posted_at, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (board, external_id) DO UPDATE SET
		   title              = excluded.title,
		   company            = excluded.company,
		   location           = excluded.location,
		   work_arrangement   = excluded.work_arrangement,
		   salary_text        = excluded.salary_text,
		   salary_min         = excluded.salary_min,
		   salary_max         = excluded.salary_max,
		   description        = excluded.description,
		   requirements       = excluded.requirements,
		   benefits           = excluded.benefits,
		   tags               = excluded.tags,
		   application_url    = excluded.application_url,
		   application_method = excluded.application_method,
		   posted_at          = excluded.posted_at,
		   metadata           = excluded.metadata,
		   updated_at         = excluded.updated_at
		 RETURNING `+sqlitePostingColumns,
		uuid.NewString(), board, externalID, f.Title, f.Company, f.Location, f.WorkArrangement,
		f.SalaryText, f.SalaryMin, f.SalaryMax, f.Description, string(reqs), string(bens), string(tags),
		f.ApplicationURL, f.ApplicationMethod, formatTime(f.PostedAt), string(metaJSON), now, now,
	)
	p, err := scanSQLitePosting(row)
	if err != nil {
		return model.JobPosting{}, fmt.Errorf("upsertPosting: %w", err)
	}
	return p, nil
}

func (s *SQLite) FindPostings(ctx context.Context, f Filter) ([]model.JobPosting, error) {
	since := ""
	if t := f.postedSince(s.now()); t != nil {
		since = t.UTC().Format(TimeLayout)
	}
	remote := 0
	if f.RemoteOnly {
		remote = 1
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqlitePostingColumns+`
		 FROM job_postings
		 WHERE (?1 = '' OR title LIKE '%' || ?1 || '%' OR company LIKE '%' || ?1 || '%' OR description LIKE '%' || ?1 || '%')
		   AND (?2 = '' OR location LIKE '%' || ?2 || '%')
		   AND (?3 = '' OR board = ?3)
		   AND (?4 = 0 OR work_arrangement = 'REMOTE')
		   AND (?5 = '' OR posted_at >= ?5)
		   AND (?6 = '' OR EXISTS (SELECT 1 FROM json_each(tags) WHERE json_each.value = lower(?6)))
		   AND (?7 = 0 OR salary_min IS NULL OR salary_min >= ?7)
		   AND (?8 = 0 OR salary_max IS NULL OR salary_max <= ?8)
		 ORDER BY posted_at IS NULL, posted_at DESC, created_at DESC
		 LIMIT ?9`,
		f.Query, f.Location, f.Board, remote, since, f.EmploymentType, f.MinSalary, f.MaxSalary, f.limit(),
	)
	if err != nil {
		return nil, fmt.Errorf("findPostings query: %w", err)
	}
	defer rows.Close()

	out := make([]model.JobPosting, 0)
	for rows.Next() {
		p, err := scanSQLitePosting(rows)
		if err != nil {
			return nil, fmt.Errorf("findPostings scan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLite) GetPosting(ctx context.Context, id string) (model.JobPosting, error) {
	p, err := scanSQLitePosting(s.db.QueryRowContext(ctx, `SELECT `+sqlitePostingColumns+` FROM job_postings WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.JobPosting{}, ErrNotFound
	}
	if err != nil {
		return model.JobPosting{}, fmt.Errorf("getPosting: %w", err)
	}
	return p, nil
}

const sqlitePostingColumns = `id, board, external_id, title, company, location, work_arrangement,
	salary_text, salary_min, salary_max, description, requirements, benefits, tags,
	application_url, application_method, posted_at, metadata, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLitePosting(row scanner) (model.JobPosting, error) {
	var (
		p                      model.JobPosting
		location, postedAt     sql.NullString
		salaryMin, salaryMax   sql.NullFloat64
		reqs, bens, tags, meta string
		createdAt, updatedAt   string
	)
	if err := row.Scan(
		&p.ID, &p.Board, &p.ExternalID, &p.Title, &p.Company, &location, &p.WorkArrangement,
		&p.SalaryText, &salaryMin, &salaryMax, &p.Description, &reqs, &bens, &tags,
		&p.ApplicationURL, &p.ApplicationMethod, &postedAt, &meta, &createdAt, &updatedAt,
	); err != nil {
		return p, err
	}
	if location.Valid {
		p.Location = &location.String
	}
	if salaryMin.Valid {
		p.SalaryMin = &salaryMin.Float64
	}
	if salaryMax.Valid {
		p.SalaryMax = &salaryMax.Float64
	}
	if postedAt.Valid && postedAt.String != "" {
		t, err := time.Parse(TimeLayout, postedAt.String)
		if err != nil {
			return p, fmt.Errorf("posting %s posted_at: %w", p.ID, err)
		}
		p.PostedAt = &t
	}
	if err := decodeJSON(reqs, &p.Requirements); err != nil {
		return p, err
	}
	if err := decodeJSON(bens, &p.Benefits); err != nil {
		return p, err
	}
	if err := decodeJSON(tags, &p.Tags); err != nil {
		return p, err
	}
	if err := decodeJSON(meta, &p.Metadata); err != nil {
		return p, err
	}
	var err error
	if p.CreatedAt, err = time.Parse(TimeLayout, createdAt); err != nil {
		return p, fmt.Errorf("posting %s created_at: %w", p.ID, err)
	}
	if p.UpdatedAt, err = time.Parse(TimeLayout, updatedAt); err != nil {
		return p, fmt.Errorf("posting %s updated_at: %w", p.ID, err)
	}
	return p, nil
}

func decodeJSON(raw string, v any) error {
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("decode json column: %w", err)
	}
	return nil
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(TimeLayout)
}
