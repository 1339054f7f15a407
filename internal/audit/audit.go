// Package audit records who did what to which resource. Recording is
// best-effort: failures are logged and never reach the caller.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Recorder appends an audit entry.
type Recorder interface {
	Record(ctx context.Context, userID, action, resource string, metadata map[string]any)
}

// Log writes entries to the structured log only.
type Log struct{}

func (Log) Record(_ context.Context, userID, action, resource string, metadata map[string]any) {
	slog.Info("audit", "user_id", userID, "action", action, "resource", resource, "metadata", metadata)
}

// Postgres writes to the audit_logs table.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres { return &Postgres{pool: pool} }

func (p *Postgres) Record(ctx context.Context, userID, action, resource string, metadata map[string]any) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO audit_logs (user_id, action, resource, metadata) VALUES ($1, $2, $3, $4)`,
		userID, action, resource, metadata,
	)
	if err != nil {
		slog.Warn("audit record failed", "action", action, "resource", resource, "err", err)
	}
}

// SQLite writes to the local audit_logs table.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLite(db *sql.DB) *SQLite { return &SQLite{db: db, now: time.Now} }

func (s *SQLite) Record(ctx context.Context, userID, action, resource string, metadata map[string]any) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		slog.Warn("audit metadata encode failed", "action", action, "err", err)
		raw = []byte("{}")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_logs (user_id, action, resource, metadata, created_at) VALUES (?, ?, ?, ?, ?)`,
		userID, action, resource, string(raw), s.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		slog.Warn("audit record failed", "action", action, "resource", resource, "err", err)
	}
}
