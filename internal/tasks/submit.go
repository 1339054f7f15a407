package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"jobmate/pipeline-service/internal/applications"
	"jobmate/pipeline-service/internal/queue"
)

// DefaultSubmitDelay is how long DelaySubmitter takes per application.
const DefaultSubmitDelay = 1500 * time.Millisecond

// Receipt describes a completed submission.
type Receipt struct {
	Automation string `json:"automation"`
	Reference  string `json:"reference,omitempty"`
}

// Submitter performs the actual submission of an application to the
// employer's site.
type Submitter interface {
	Submit(ctx context.Context, app applications.Application) (Receipt, error)
}

// DelaySubmitter stands in for browser automation: it waits Delay and
// reports success.
type DelaySubmitter struct {
	Delay time.Duration
}

func (d DelaySubmitter) Submit(ctx context.Context, _ applications.Application) (Receipt, error) {
	timer := time.NewTimer(d.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return Receipt{}, ctx.Err()
	case <-timer.C:
	}
	return Receipt{Automation: "auto-submit"}, nil
}

// Submit drives one application from QUEUED through SUBMISSION_IN_PROGRESS
// to SUBMITTED. The current status is always re-read, so a redelivered task
// resumes where the previous attempt stopped and a task for an application
// already past submission does nothing.
func (w *Workers) Submit(ctx context.Context, t queue.Task) error {
	var p SubmissionPayload
	if err := t.Decode(&p); err != nil {
		return fmt.Errorf("decode submission payload: %w", err)
	}
	if p.ApplicationID == "" {
		return errors.New("submission task has no application id")
	}
	id := p.ApplicationID
	log := w.log.With("task_id", t.ID, "application_id", id, "attempt", t.Attempts)

	app, err := w.Apps.Get(ctx, "", id)
	if errors.Is(err, applications.ErrNotFound) {
		log.Warn("application vanished before submission")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load application %s: %w", id, err)
	}

	switch app.Status {
	case applications.StatusQueued:
		started, err := w.Apps.UpdateStatus(ctx, "", id, applications.StatusSubmissionInProgress,
			mustJSON(map[string]string{"queueJobId": t.ID}))
		if errors.Is(err, applications.ErrIllegalTransition) {
			log.Info("application changed concurrently, skipping", "err", err)
			return nil
		}
		if err != nil {
			return fmt.Errorf("start submission: %w", err)
		}
		app = started
	case applications.StatusSubmissionInProgress:
		log.Info("resuming interrupted submission")
	default:
		log.Info("application already past submission", "status", app.Status)
		return nil
	}

	receipt, err := w.Submitter.Submit(ctx, *app)
	if err != nil {
		w.markFailed(ctx, t, id, err)
		return fmt.Errorf("submit application %s: %w", id, err)
	}

	meta := map[string]string{"queueJobId": t.ID, "automation": receipt.Automation}
	if receipt.Reference != "" {
		meta["reference"] = receipt.Reference
	}
	_, err = w.Apps.UpdateStatus(ctx, "", id, applications.StatusSubmitted, mustJSON(meta))
	switch {
	case errors.Is(err, applications.ErrIllegalTransition):
		log.Info("application changed during submission", "err", err)
		return nil
	case err != nil:
		if t.FinalAttempt() {
			w.markFailed(ctx, t, id, err)
		}
		return fmt.Errorf("record submission: %w", err)
	}
	log.Info("application submitted", "automation", receipt.Automation)
	return nil
}

func (w *Workers) markFailed(ctx context.Context, t queue.Task, id string, cause error) {
	meta := mustJSON(map[string]string{"queueJobId": t.ID, "error": cause.Error()})
	if _, err := w.Apps.UpdateStatus(ctx, "", id, applications.StatusFailed, meta); err != nil {
		w.log.Error("could not mark application failed", "application_id", id, "err", err, "cause", cause)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
