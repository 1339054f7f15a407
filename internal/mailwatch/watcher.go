// Package mailwatch watches the candidate's inbox for employer replies and
// moves the matching application to CONFIRMED or RESPONDED.
package mailwatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"time"

	"jobmate/pipeline-service/internal/applications"
	"jobmate/pipeline-service/internal/audit"
	"jobmate/pipeline-service/internal/notify"
	"jobmate/pipeline-service/internal/profile"
)

// DefaultPoll is the inbox polling period.
const DefaultPoll = 2 * time.Minute

// Notifier queues a notification. *tasks.Enqueuer implements it.
type Notifier interface {
	Notification(ctx context.Context, p notify.Payload) (string, error)
}

// Outcome reports what Handle did with one message.
type Outcome struct {
	UserID         string
	ApplicationID  string
	Classification Classification
	Updated        bool
}

// Watcher polls an inbox and applies each reply to the application it most
// likely answers.
type Watcher struct {
	inbox    Inbox
	apps     *applications.Service
	dir      profile.Directory
	notifier Notifier
	audit    audit.Recorder
	poll     time.Duration
	log      *slog.Logger
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithNotifier queues an email to the user for every recorded reply.
func WithNotifier(n Notifier) Option { return func(w *Watcher) { w.notifier = n } }

func WithAudit(r audit.Recorder) Option { return func(w *Watcher) { w.audit = r } }

func WithPollInterval(d time.Duration) Option { return func(w *Watcher) { w.poll = d } }

func New(inbox Inbox, apps *applications.Service, dir profile.Directory, opts ...Option) *Watcher {
	w := &Watcher{
		inbox: inbox,
		apps:  apps,
		dir:   dir,
		audit: audit.Log{},
		poll:  DefaultPoll,
		log:   slog.With("component", "mailwatch"),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Run polls once immediately and then every poll interval until ctx ends.
func (w *Watcher) Run(ctx context.Context) {
	w.log.Info("inbox watcher started", "every", w.poll)
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()
	for {
		if n, err := w.PollOnce(ctx); err != nil {
			w.log.Error("inbox poll failed", "err", err)
		} else if n > 0 {
			w.log.Info("inbox poll done", "processed", n)
		}
		select {
		case <-ctx.Done():
			w.log.Info("inbox watcher stopped")
			return
		case <-ticker.C:
		}
	}
}

// PollOnce handles every unseen message. Messages are marked seen once
// handled, or when they cannot be parsed at all; a message whose handling
// failed stays unseen and is retried on the next poll.
func (w *Watcher) PollOnce(ctx context.Context) (int, error) {
	sess, err := w.inbox.Open(ctx)
	if err != nil {
		return 0, err
	}
	defer sess.Close()

	raws, err := sess.Unseen(ctx)
	if err != nil {
		return 0, err
	}

	var done []RawMessage
	for _, raw := range raws {
		msg, err := ParseMessage(raw.Data)
		if err != nil {
			w.log.Warn("unparseable message skipped", "uid", raw.UID, "err", err)
			done = append(done, raw)
			continue
		}
		if msg.Subject == "" {
			msg.Subject = raw.Subject
		}
		if _, err := w.Handle(ctx, msg); err != nil {
			w.log.Error("message handling failed", "uid", raw.UID, "err", err)
			continue
		}
		done = append(done, raw)
	}

	if err := sess.MarkSeen(ctx, done); err != nil {
		return len(done), err
	}
	return len(done), nil
}

// Handle applies one reply. A message for no known user, or from a company
// with no application, is recorded and otherwise ignored. An illegal move,
// such as a second interview invite for an already confirmed application,
// leaves the status as is.
func (w *Watcher) Handle(ctx context.Context, msg Message) (Outcome, error) {
	var out Outcome
	for _, to := range msg.To {
		id, err := w.dir.UserIDByEmail(ctx, to.Email)
		if err == nil {
			out.UserID = id
			break
		}
		if !errors.Is(err, profile.ErrNotFound) {
			return out, fmt.Errorf("resolve recipient: %w", err)
		}
	}
	if out.UserID == "" {
		w.log.Debug("reply for unknown recipient ignored", "subject", msg.Subject)
		return out, nil
	}

	out.Classification = Classify(msg.Subject, msg.Body)
	log := w.log.With("user_id", out.UserID, "classification", out.Classification.Label)

	app, err := w.resolve(ctx, out.UserID, msg.From)
	if err != nil {
		return out, err
	}
	if app != nil {
		out.ApplicationID = app.ID
		if applications.IsTransitionAllowed(app.Status, out.Classification.Status) {
			meta, _ := json.Marshal(map[string]string{
				"via":            "email",
				"classification": out.Classification.Label,
				"subject":        msg.Subject,
				"from":           firstEmail(msg.From),
			})
			_, err := w.apps.UpdateStatus(ctx, out.UserID, app.ID, out.Classification.Status, meta)
			switch {
			case err == nil:
				out.Updated = true
			case errors.Is(err, applications.ErrIllegalTransition):
				// moved concurrently since it was read
			default:
				return out, fmt.Errorf("apply reply to %s: %w", app.ID, err)
			}
		} else {
			log.Info("reply does not move application", "application_id", app.ID, "status", app.Status)
		}
	}

	w.notify(ctx, out, msg)

	resource := "email"
	if out.ApplicationID != "" {
		resource = "application:" + out.ApplicationID
	}
	w.audit.Record(ctx, out.UserID, "email.response_recorded", resource, map[string]any{
		"classification": out.Classification.Label,
		"updated":        out.Updated,
	})
	log.Info("reply recorded", "application_id", out.ApplicationID, "updated", out.Updated)
	return out, nil
}

func (w *Watcher) resolve(ctx context.Context, userID string, from []Address) (*applications.Application, error) {
	for _, company := range senderCompanies(from) {
		app, err := w.apps.LatestForCompany(ctx, userID, company)
		if errors.Is(err, applications.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("resolve application: %w", err)
		}
		return app, nil
	}
	return nil, nil
}

func (w *Watcher) notify(ctx context.Context, out Outcome, msg Message) {
	if w.notifier == nil {
		return
	}
	to, err := w.dir.EmailFor(ctx, out.UserID)
	if err != nil {
		return
	}
	subject := msg.Subject
	if subject == "" {
		subject = "(no subject)"
	}
	body := fmt.Sprintf("<p>We captured a new application response.</p><p>Classification: <strong>%s</strong></p><p>Subject: %s</p>",
		html.EscapeString(out.Classification.Label), html.EscapeString(subject))
	_, err = w.notifier.Notification(ctx, notify.Payload{
		Channels: []notify.Channel{notify.ChannelEmail},
		Email:    &notify.Email{To: to, Subject: "New response detected", HTML: body},
	})
	if err != nil {
		w.log.Warn("queue response notification failed", "err", err)
	}
}

func firstEmail(as []Address) string {
	if len(as) == 0 {
		return ""
	}
	return as[0].Email
}
