package tasks

import (
	"context"
	"fmt"

	"jobmate/pipeline-service/internal/notify"
	"jobmate/pipeline-service/internal/queue"
)

// Notify hands one notification to the dispatcher. Delivery failures are
// logged and swallowed; only an unreadable payload fails the task.
func (w *Workers) Notify(ctx context.Context, t queue.Task) error {
	var p notify.Payload
	if err := t.Decode(&p); err != nil {
		return fmt.Errorf("decode notification payload: %w", err)
	}
	if err := w.Notifier.Dispatch(ctx, p.Channels, p); err != nil {
		w.log.Warn("notification dispatch failed", "task_id", t.ID, "channels", p.Channels, "err", err)
	}
	return nil
}
