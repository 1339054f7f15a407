// Package db provides database connection helpers and schema migrations.
package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPostgresPool creates and verifies a pgxpool connection pool.
func NewPostgresPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	return pool, nil
}

// MigratePostgres creates the pipeline tables when missing. Every statement
// is idempotent so it runs on each start.
func MigratePostgres(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS job_postings (
  id                 UUID PRIMARY KEY,
  board              TEXT NOT NULL,
  external_id        TEXT NOT NULL,
  title              TEXT NOT NULL,
  company            TEXT NOT NULL,
  location           TEXT,
  work_arrangement   TEXT NOT NULL DEFAULT 'ONSITE',
  salary_text        TEXT NOT NULL DEFAULT '',
  salary_min         DOUBLE PRECISION,
  salary_max         DOUBLE PRECISION,
  description        TEXT NOT NULL DEFAULT '',
  requirements       TEXT[] NOT NULL DEFAULT '{}',
  benefits           TEXT[] NOT NULL DEFAULT '{}',
  tags               TEXT[] NOT NULL DEFAULT '{}',
  application_url    TEXT NOT NULL,
  application_method TEXT NOT NULL DEFAULT '',
  posted_at          TIMESTAMPTZ,
  metadata           JSONB NOT NULL DEFAULT '{}',
  created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  UNIQUE (board, external_id)
);
CREATE INDEX IF NOT EXISTS idx_job_postings_posted ON job_postings(posted_at DESC);

CREATE TABLE IF NOT EXISTS applications (
  id                UUID PRIMARY KEY,
  user_id           TEXT NOT NULL,
  job_posting_id    UUID NOT NULL REFERENCES job_postings(id),
  status            TEXT NOT NULL,
  priority          INTEGER NOT NULL DEFAULT 0,
  response_metadata JSONB,
  created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_applications_user ON applications(user_id, priority DESC);

CREATE TABLE IF NOT EXISTS application_events (
  seq            BIGSERIAL PRIMARY KEY,
  id             UUID NOT NULL UNIQUE,
  application_id UUID NOT NULL REFERENCES applications(id),
  type           TEXT NOT NULL,
  payload        JSONB NOT NULL DEFAULT '{}',
  occurred_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_application_events_app ON application_events(application_id, seq);

CREATE TABLE IF NOT EXISTS audit_logs (
  id         BIGSERIAL PRIMARY KEY,
  user_id    TEXT NOT NULL,
  action     TEXT NOT NULL,
  resource   TEXT NOT NULL,
  metadata   JSONB NOT NULL DEFAULT '{}',
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS user_profiles (
  user_id                TEXT PRIMARY KEY,
  email                  TEXT UNIQUE,
  total_years_experience DOUBLE PRECISION,
  preferred_locations    TEXT[] NOT NULL DEFAULT '{}',
  minimum_salary         DOUBLE PRECISION,
  maximum_salary         DOUBLE PRECISION,
  remote_preferred       BOOLEAN NOT NULL DEFAULT false,
  excluded_companies     TEXT[] NOT NULL DEFAULT '{}',
  excluded_keywords      TEXT[] NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS user_skills (
  user_id          TEXT NOT NULL REFERENCES user_profiles(user_id),
  name             TEXT NOT NULL,
  proficiency      INTEGER,
  years_experience DOUBLE PRECISION,
  PRIMARY KEY (user_id, name)
);

CREATE TABLE IF NOT EXISTS search_configs (
  id            UUID PRIMARY KEY,
  user_id       TEXT NOT NULL,
  job_titles    TEXT[] NOT NULL DEFAULT '{}',
  locations     TEXT[] NOT NULL DEFAULT '{}',
  remote_policy TEXT NOT NULL DEFAULT '',
  keywords      TEXT[] NOT NULL DEFAULT '{}',
  red_flags     TEXT[] NOT NULL DEFAULT '{}',
  salary_min    INTEGER,
  salary_max    INTEGER,
  is_active     BOOLEAN NOT NULL DEFAULT true,
  created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
