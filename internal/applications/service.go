package applications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"jobmate/pipeline-service/internal/audit"
)

// StatusChannel is the Redis channel status changes are published on.
const StatusChannel = "EVENT_APPLICATION_STATUS"

// ─── Service ─────────────────────────────────────────────────────────────────

// StatusHook is told about transitions into RESPONDED or FAILED.
type StatusHook func(ctx context.Context, app Application, from Status)

// Service encapsulates all application business logic.
// It has no dependency on net/http; it is used by the HTTP API, the queue
// workers and the mail watcher alike.
type Service struct {
	store  Store
	rdb    *redis.Client // nil disables publishing
	audit  audit.Recorder
	onDone StatusHook
	now    func() time.Time
	log    *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher publishes every status change on StatusChannel.
func WithPublisher(rdb *redis.Client) Option { return func(s *Service) { s.rdb = rdb } }

// WithAudit records every mutation.
func WithAudit(r audit.Recorder) Option { return func(s *Service) { s.audit = r } }

// WithStatusHook installs h for RESPONDED and FAILED transitions.
func WithStatusHook(h StatusHook) Option { return func(s *Service) { s.onDone = h } }

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// NewService returns a configured Service.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store: store,
		audit: audit.Log{},
		now:   time.Now,
		log:   slog.With("component", "applications"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ─── Business logic ───────────────────────────────────────────────────────────

// Create queues a new application for jobPostingID. QUEUED is the only
// initial status.
func (s *Service) Create(ctx context.Context, userID, jobPostingID string) (*Application, error) {
	if userID == "" {
		return nil, &ValidationError{Msg: "userId is required"}
	}
	if jobPostingID == "" {
		return nil, &ValidationError{Msg: "jobPostingId is required"}
	}

	now := s.now().UTC()
	app := Application{
		ID:           uuid.NewString(),
		UserID:       userID,
		JobPostingID: jobPostingID,
		Status:       StatusQueued,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	first := s.event(app.ID, EventApplicationQueued, mustJSON(map[string]string{"userId": userID}), now)
	if err := s.store.Create(ctx, app, first); err != nil {
		return nil, fmt.Errorf("createApplication: %w", err)
	}
	s.audit.Record(ctx, userID, "application.create", "application:"+app.ID, map[string]any{"jobPostingId": jobPostingID})

	created, err := s.store.Get(ctx, app.ID)
	if err != nil {
		return nil, fmt.Errorf("createApplication reload: %w", err)
	}
	return &created, nil
}

// Get returns a single application with its full history. An empty userID
// skips the ownership check.
func (s *Service) Get(ctx context.Context, userID, id string) (*Application, error) {
	app, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if userID != "" && app.UserID != userID {
		return nil, ErrNotFound
	}
	return &app, nil
}

// List returns all applications for the given user.
func (s *Service) List(ctx context.Context, userID string) ([]Application, error) {
	apps, err := s.store.List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listApplications: %w", err)
	}
	return apps, nil
}

// Events returns the ordered audit trail of one application.
func (s *Service) Events(ctx context.Context, userID, id string) ([]Event, error) {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return nil, err
	}
	return s.store.Events(ctx, id)
}

// UpdateStatus is the only way an application's status changes. The
// legality check, status write, response payload and event append commit
// together. metadata is stored as the response payload only when moving to
// RESPONDED and becomes the event payload in every case. An empty userID is
// the pipeline acting on its own behalf.
func (s *Service) UpdateStatus(ctx context.Context, userID, id string, to Status, metadata json.RawMessage) (*Application, error) {
	if _, err := ParseStatus(string(to)); err != nil {
		return nil, &ValidationError{Msg: err.Error()}
	}
	evType, err := EventFor(to)
	if err != nil {
		return nil, err
	}
	if len(metadata) == 0 || string(metadata) == "null" {
		metadata = nil
	} else if !json.Valid(metadata) {
		return nil, &ValidationError{Msg: "metadata must be valid JSON"}
	}

	var from Status
	app, err := s.store.Transition(ctx, id, func(cur Application) (Change, error) {
		if userID != "" && cur.UserID != userID {
			return Change{}, ErrNotFound
		}
		from = cur.Status
		if !IsTransitionAllowed(cur.Status, to) {
			return Change{}, fmt.Errorf("%w: %s → %s", ErrIllegalTransition, cur.Status, to)
		}
		ch := Change{To: to, Event: s.event(id, evType, metadata, s.now().UTC())}
		if to == StatusResponded {
			ch.Response = metadata
			if ch.Response == nil {
				ch.Response = json.RawMessage(`{}`)
			}
		}
		return ch, nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("status changed", "application_id", id, "from", from, "to", to)
	s.publish(ctx, app, from)
	s.audit.Record(ctx, app.UserID, "application.status", "application:"+id,
		map[string]any{"from": string(from), "to": string(to)})
	if s.onDone != nil && (to == StatusResponded || to == StatusFailed) {
		s.onDone(ctx, app, from)
	}
	return &app, nil
}

// AddNote appends a NOTE_ADDED event. Status is untouched.
func (s *Service) AddNote(ctx context.Context, userID, id, note string) (*Event, error) {
	if note == "" {
		return nil, &ValidationError{Msg: "note is required"}
	}
	if _, err := s.Get(ctx, userID, id); err != nil {
		return nil, err
	}
	ev := s.event(id, EventNoteAdded, mustJSON(map[string]string{"note": note, "userId": userID}), s.now().UTC())
	if err := s.store.AppendEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("addNote: %w", err)
	}
	return &ev, nil
}

// Reorder gives the first id the highest priority (len(ids)) and the last
// id priority 1. Status is untouched.
func (s *Service) Reorder(ctx context.Context, userID string, ids []string) error {
	if len(ids) == 0 {
		return &ValidationError{Msg: "order must list at least one application id"}
	}
	priorities := make(map[string]int, len(ids))
	for i, id := range ids {
		if _, dup := priorities[id]; dup {
			return &ValidationError{Msg: fmt.Sprintf("application %s listed twice", id)}
		}
		priorities[id] = len(ids) - i
	}
	if err := s.store.Reorder(ctx, userID, priorities); err != nil {
		return err
	}
	s.audit.Record(ctx, userID, "application.reorder", "applications", map[string]any{"count": len(ids)})
	return nil
}

// LatestForCompany finds the application a reply from company most likely
// refers to.
func (s *Service) LatestForCompany(ctx context.Context, userID, company string) (*Application, error) {
	company = strings.TrimSpace(company)
	if company == "" {
		return nil, ErrNotFound
	}
	app, err := s.store.LatestByCompany(ctx, userID, company)
	if err != nil {
		return nil, err
	}
	return &app, nil
}

func (s *Service) event(appID string, t EventType, payload json.RawMessage, at time.Time) Event {
	if payload == nil {
		payload = json.RawMessage(`null`)
	}
	return Event{ID: uuid.NewString(), ApplicationID: appID, Type: t, Payload: payload, OccurredAt: at}
}

// publish emits the change for live dashboards (non-fatal).
func (s *Service) publish(ctx context.Context, app Application, from Status) {
	if s.rdb == nil {
		return
	}
	event, _ := json.Marshal(map[string]string{
		"type":          StatusChannel,
		"applicationId": app.ID,
		"userId":        app.UserID,
		"from":          string(from),
		"to":            string(app.Status),
	})
	if err := s.rdb.Publish(ctx, StatusChannel, event).Err(); err != nil {
		s.log.Warn("publish "+StatusChannel+" failed", "err", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
