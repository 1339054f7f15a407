package applications

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the pgx-backed Store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const pgAppSelect = `
	SELECT a.id::text, a.user_id, a.job_posting_id::text, COALESCE(p.title, ''), COALESCE(p.company, ''),
	       COALESCE(p.application_url, ''), a.status, a.priority, a.response_metadata,
	       a.created_at, a.updated_at
	FROM applications a
	LEFT JOIN job_postings p ON p.id = a.job_posting_id`

func (s *PostgresStore) Create(ctx context.Context, app Application, first Event) error {
	if _, err := uuid.Parse(app.JobPostingID); err != nil {
		return ErrPostingNotFound
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`INSERT INTO applications (id, user_id, job_posting_id, status, priority, created_at, updated_at)
			 SELECT $1::uuid, $2::text, $3::uuid, $4::text, $5::int, $6::timestamptz, $7::timestamptz
			 WHERE EXISTS (SELECT 1 FROM job_postings WHERE id = $3::uuid)`,
			app.ID, app.UserID, app.JobPostingID, string(app.Status), app.Priority, app.CreatedAt, app.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert application: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrPostingNotFound
		}
		return insertPgEvent(ctx, tx, first)
	})
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Application, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Application{}, ErrNotFound
	}
	app, err := scanPgApp(s.pool.QueryRow(ctx, pgAppSelect+` WHERE a.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
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

func (s *PostgresStore) List(ctx context.Context, userID string) ([]Application, error) {
	rows, err := s.pool.Query(ctx,
		pgAppSelect+` WHERE a.user_id = $1 ORDER BY a.priority DESC, a.created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("listApplications query: %w", err)
	}
	apps, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (Application, error) { return scanPgApp(r) })
	if err != nil {
		return nil, fmt.Errorf("listApplications scan: %w", err)
	}

	for i := range apps {
		evs, err := s.queryEvents(ctx,
			`SELECT id::text, application_id::text, type, payload, occurred_at FROM application_events
			 WHERE application_id = $1 ORDER BY seq DESC LIMIT $2`, apps[i].ID, RecentEvents)
		if err != nil {
			return nil, err
		}
		apps[i].Events = evs
	}
	return apps, nil
}

func (s *PostgresStore) Events(ctx context.Context, id string) ([]Event, error) {
	return s.queryEvents(ctx,
		`SELECT id::text, application_id::text, type, payload, occurred_at FROM application_events
		 WHERE application_id = $1 ORDER BY seq`, id)
}

func (s *PostgresStore) queryEvents(ctx context.Context, query string, args ...any) ([]Event, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("events query: %w", err)
	}
	defer rows.Close()

	out := make([]Event, 0)
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.ApplicationID, &ev.Type, &ev.Payload, &ev.OccurredAt); err != nil {
			return nil, fmt.Errorf("events scan: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Transition holds a row lock for the whole read-decide-write cycle so
// concurrent workers observe each other's status.
func (s *PostgresStore) Transition(ctx context.Context, id string, decide func(Application) (Change, error)) (Application, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Application{}, ErrNotFound
	}
	var out Application
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var locked string
		err := tx.QueryRow(ctx, `SELECT id::text FROM applications WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock application: %w", err)
		}
		cur, err := scanPgApp(tx.QueryRow(ctx, pgAppSelect+` WHERE a.id = $1`, id))
		if err != nil {
			return fmt.Errorf("load application: %w", err)
		}

		ch, err := decide(cur)
		if err != nil {
			return err
		}

		var response any
		if ch.Response != nil {
			response = ch.Response
		}
		if _, err := tx.Exec(ctx,
			`UPDATE applications SET status = $1, response_metadata = $2, updated_at = $3 WHERE id = $4`,
			string(ch.To), response, ch.Event.OccurredAt, id,
		); err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		if err := insertPgEvent(ctx, tx, ch.Event); err != nil {
			return err
		}

		cur.Status = ch.To
		cur.ResponseMetadata = ch.Response
		cur.UpdatedAt = ch.Event.OccurredAt
		out = cur
		return nil
	})
	if err != nil {
		return Application{}, err
	}
	return out, nil
}

func (s *PostgresStore) AppendEvent(ctx context.Context, ev Event) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return insertPgEvent(ctx, tx, ev)
	})
}

func (s *PostgresStore) Reorder(ctx context.Context, userID string, priorities map[string]int) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for id, p := range priorities {
			if _, err := uuid.Parse(id); err != nil {
				return fmt.Errorf("reorder %s: %w", id, ErrNotFound)
			}
			tag, err := tx.Exec(ctx,
				`UPDATE applications SET priority = $1, updated_at = NOW() WHERE id = $2 AND user_id = $3`,
				p, id, userID)
			if err != nil {
				return fmt.Errorf("reorder: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("reorder %s: %w", id, ErrNotFound)
			}
		}
		return nil
	})
}

func (s *PostgresStore) LatestByCompany(ctx context.Context, userID, company string) (Application, error) {
	app, err := scanPgApp(s.pool.QueryRow(ctx,
		pgAppSelect+` WHERE a.user_id = $1 AND p.company <> ''
		   AND (strpos(lower($2), lower(p.company)) > 0 OR strpos(lower(p.company), lower($2)) > 0)
		 ORDER BY a.updated_at DESC LIMIT 1`, userID, company))
	if errors.Is(err, pgx.ErrNoRows) {
		return Application{}, ErrNotFound
	}
	if err != nil {
		return Application{}, fmt.Errorf("latestByCompany: %w", err)
	}
	return app, nil
}

func insertPgEvent(ctx context.Context, tx pgx.Tx, ev Event) error {
	tag, err := tx.Exec(ctx,
		`INSERT INTO application_events (id, application_id, type, payload, occurred_at)
		 SELECT $1::uuid, $2::uuid, $3::text, $4::jsonb, $5::timestamptz
		 WHERE EXISTS (SELECT 1 FROM applications WHERE id = $2::uuid)`,
		ev.ID, ev.ApplicationID, string(ev.Type), ev.Payload, ev.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanPgApp(row pgx.Row) (Application, error) {
	var a Application
	err := row.Scan(&a.ID, &a.UserID, &a.JobPostingID, &a.JobTitle, &a.Company, &a.ApplicationURL,
		&a.Status, &a.Priority, &a.ResponseMetadata, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}
