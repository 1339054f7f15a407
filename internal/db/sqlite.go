package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (creating if needed) the local single-node database and
// applies migrations.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite dir: %w", err)
		}
	}

	// modernc sqlite uses DSN like: file:foo.db?_pragma=busy_timeout(5000)
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open sqlite: %w", err)
	}

	// sqlite wants a single writer
	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("sqlite ping failed: %w", err)
	}

	if err := MigrateSQLite(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// MigrateSQLite brings the schema up to date using PRAGMA user_version.
func MigrateSQLite(ctx context.Context, conn *sql.DB) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migrate begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var v int
	if err := tx.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&v); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	for i := v; i < len(sqliteMigrations); i++ {
		if _, err := tx.ExecContext(ctx, sqliteMigrations[i]); err != nil {
			return fmt.Errorf("sqlite migration %d: %w", i+1, err)
		}
	}
	if v < len(sqliteMigrations) {
		// PRAGMA does not accept bind parameters.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d;`, len(sqliteMigrations))); err != nil {
			return fmt.Errorf("write user_version: %w", err)
		}
	}
	return tx.Commit()
}

var sqliteMigrations = []string{
	`
CREATE TABLE IF NOT EXISTS job_postings (
  id                 TEXT PRIMARY KEY,
  board              TEXT NOT NULL,
  external_id        TEXT NOT NULL,
  title              TEXT NOT NULL,
  company            TEXT NOT NULL,
  location           TEXT,
  work_arrangement   TEXT NOT NULL DEFAULT 'ONSITE',
  salary_text        TEXT NOT NULL DEFAULT '',
  salary_min         REAL,
  salary_max         REAL,
  description        TEXT NOT NULL DEFAULT '',
  requirements       TEXT NOT NULL DEFAULT '[]',
  benefits           TEXT NOT NULL DEFAULT '[]',
  tags               TEXT NOT NULL DEFAULT '[]',
  application_url    TEXT NOT NULL,
  application_method TEXT NOT NULL DEFAULT '',
  posted_at          TEXT,
  metadata           TEXT NOT NULL DEFAULT '{}',
  created_at         TEXT NOT NULL,
  updated_at         TEXT NOT NULL,
  UNIQUE (board, external_id)
);
CREATE INDEX IF NOT EXISTS idx_job_postings_posted ON job_postings(posted_at);

CREATE TABLE IF NOT EXISTS applications (
  id                TEXT PRIMARY KEY,
  user_id           TEXT NOT NULL,
  job_posting_id    TEXT NOT NULL REFERENCES job_postings(id),
  status            TEXT NOT NULL,
  priority          INTEGER NOT NULL DEFAULT 0,
  response_metadata TEXT,
  created_at        TEXT NOT NULL,
  updated_at        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_applications_user ON applications(user_id, priority);

CREATE TABLE IF NOT EXISTS application_events (
  seq            INTEGER PRIMARY KEY AUTOINCREMENT,
  id             TEXT NOT NULL UNIQUE,
  application_id TEXT NOT NULL REFERENCES applications(id),
  type           TEXT NOT NULL,
  payload        TEXT NOT NULL DEFAULT '{}',
  occurred_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_application_events_app ON application_events(application_id, seq);

CREATE TABLE IF NOT EXISTS audit_logs (
  id         INTEGER PRIMARY KEY AUTOINCREMENT,
  user_id    TEXT NOT NULL,
  action     TEXT NOT NULL,
  resource   TEXT NOT NULL,
  metadata   TEXT NOT NULL DEFAULT '{}',
  created_at TEXT NOT NULL
);
`,
}
