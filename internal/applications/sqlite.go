package applications

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore is the single-node Store.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

const sqliteAppSelect = `
	SELECT a.id, a.user_id, a.job_posting_id, COALESCE(p.title, ''), COALESCE(p.company, ''),
	       COALESCE(p.application_url, ''), a.status, a.priority, a.response_metadata,
	       a.created_at, a.updated_at
	FROM applications a
	LEFT JOIN job_postings p ON p.id = a.job_posting_id`

func (s *SQLiteStore) Create(ctx context.Context, app Application, first Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO applications (id, user_id, job_posting_id, status, priority, created_at, updated_at)
		 SELECT ?, ?, ?, ?, ?, ?, ?
		 WHERE EXISTS (SELECT 1 FROM job_postings WHERE id = ?)`,
		app.ID, app.UserID, app.JobPostingID, string(app.Status), app.Priority,
		stamp(app.CreatedAt), stamp(app.UpdatedAt), app.JobPostingID,
	)
	if err != nil {
		return fmt.Errorf("insert application: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrPostingNotFound
	}
	if err := insertSQLiteEvent(ctx, tx, first); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (Application, error) {
	app, err := scanSQLiteApp(s.db.QueryRowContext(ctx, sqliteAppSelect+` WHERE a.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Application{}, ErrNotFound
	}
	if err != nil {
		return Application{}, fmt.Errorf("getApplication: %w", err)
	}
	if app.Events, err = s.Events(ctx, id); err != nil {
		return Application{}, err
	}
	return app, nil
}

func (s *SQLiteStore) List(ctx context.Context, userID string) ([]Application, error) {
	rows, err := s.db.QueryContext(ctx,
		sqliteAppSelect+` WHERE a.user_id = ? ORDER BY a.priority DESC, a.created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("listApplications query: %w", err)
	}
	apps := make([]Application, 0)
	for rows.Next() {
		a, err := scanSQLiteApp(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("listApplications scan: %w", err)
		}
		apps = append(apps, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range apps {
		evs, err := s.queryEvents(ctx,
			`SELECT id, application_id, type, payload, occurred_at FROM application_events
			 WHERE application_id = ? ORDER BY seq DESC LIMIT ?`, apps[i].ID, RecentEvents)
		if err != nil {
			return nil, err
		}
		apps[i].Events = evs
	}
	return apps, nil
}

func (s *SQLiteStore) Events(ctx context.Context, id string) ([]Event, error) {
	return s.queryEvents(ctx,
		`SELECT id, application_id, type, payload, occurred_at FROM application_events
		 WHERE application_id = ? ORDER BY seq`, id)
}

func (s *SQLiteStore) queryEvents(ctx context.Context, query string, args ...any) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("events query: %w", err)
	}
	defer rows.Close()

	out := make([]Event, 0)
	for rows.Next() {
		var (
			ev          Event
			payload, at string
		)
		if err := rows.Scan(&ev.ID, &ev.ApplicationID, &ev.Type, &payload, &at); err != nil {
			return nil, fmt.Errorf("events scan: %w", err)
		}
		ev.Payload = json.RawMessage(payload)
		if ev.OccurredAt, err = parseStamp(at); err != nil {
			return nil, fmt.Errorf("event %s occurred_at: %w", ev.ID, err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Transition(ctx context.Context, id string, decide func(Application) (Change, error)) (Application, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Application{}, err
	}
	defer tx.Rollback()

	cur, err := scanSQLiteApp(tx.QueryRowContext(ctx, sqliteAppSelect+` WHERE a.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Application{}, ErrNotFound
	}
	if err != nil {
		return Application{}, fmt.Errorf("load application: %w", err)
	}

	ch, err := decide(cur)
	if err != nil {
		return Application{}, err
	}

	var response any
	if ch.Response != nil {
		response = string(ch.Response)
	}
	updated := ch.Event.OccurredAt
	if _, err := tx.ExecContext(ctx,
		`UPDATE applications SET status = ?, response_metadata = ?, updated_at = ? WHERE id = ?`,
		string(ch.To), response, stamp(updated), id,
	); err != nil {
		return Application{}, fmt.Errorf("update status: %w", err)
	}
	if err := insertSQLiteEvent(ctx, tx, ch.Event); err != nil {
		return Application{}, err
	}
	if err := tx.Commit(); err != nil {
		return Application{}, fmt.Errorf("commit transition: %w", err)
	}

	cur.Status = ch.To
	cur.ResponseMetadata = ch.Response
	cur.UpdatedAt = updated
	return cur, nil
}

func (s *SQLiteStore) AppendEvent(ctx context.Context, ev Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := insertSQLiteEvent(ctx, tx, ev); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Reorder(ctx context.Context, userID string, priorities map[string]int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := stamp(s.now())
	for id, p := range priorities {
		res, err := tx.ExecContext(ctx,
			`UPDATE applications SET priority = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
			p, now, id, userID)
		if err != nil {
			return fmt.Errorf("reorder: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("reorder %s: %w", id, ErrNotFound)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) LatestByCompany(ctx context.Context, userID, company string) (Application, error) {
	app, err := scanSQLiteApp(s.db.QueryRowContext(ctx,
		sqliteAppSelect+` WHERE a.user_id = ? AND p.company <> ''
		   AND (instr(lower(?), lower(p.company)) > 0 OR instr(lower(p.company), lower(?)) > 0)
		 ORDER BY a.updated_at DESC LIMIT 1`, userID, company, company))
	if errors.Is(err, sql.ErrNoRows) {
		return Application{}, ErrNotFound
	}
	if err != nil {
		return Application{}, fmt.Errorf("latestByCompany: %w", err)
	}
	return app, nil
}

func insertSQLiteEvent(ctx context.Context, tx *sql.Tx, ev Event) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO application_events (id, application_id, type, payload, occurred_at)
		 SELECT ?, ?, ?, ?, ? WHERE EXISTS (SELECT 1 FROM applications WHERE id = ?)`,
		ev.ID, ev.ApplicationID, string(ev.Type), string(ev.Payload), stamp(ev.OccurredAt), ev.ApplicationID,
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSQLiteApp(row interface{ Scan(...any) error }) (Application, error) {
	var (
		a                    Application
		response             sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&a.ID, &a.UserID, &a.JobPostingID, &a.JobTitle, &a.Company, &a.ApplicationURL,
		&a.Status, &a.Priority, &response, &createdAt, &updatedAt); err != nil {
		return a, err
	}
	if response.Valid {
		a.ResponseMetadata = json.RawMessage(response.String)
	}
	var err error
	if a.CreatedAt, err = parseStamp(createdAt); err != nil {
		return a, fmt.Errorf("application %s created_at: %w", a.ID, err)
	}
	if a.UpdatedAt, err = parseStamp(updatedAt); err != nil {
		return a, fmt.Errorf("application %s updated_at: %w", a.ID, err)
	}
	return a, nil
}

func stamp(t time.Time) string { return t.UTC().Format(sqliteTimeLayout) }

func parseStamp(s string) (time.Time, error) { return time.Parse(sqliteTimeLayout, s) }
