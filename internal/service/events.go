package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Strob0t/FlowForge/internal/port/messagequeue"
)

// StartEventLogger subscribes to run state events and logs each one. This
// is the consumer side of the event stream: any engine process (or an
// external observer using the same subjects) sees every run's lifecycle
// regardless of which process drives it. Returns a cancel function for the
// subscription.
func StartEventLogger(ctx context.Context, queue messagequeue.Queue) (func(), error) {
	cancel, err := queue.Subscribe(ctx, messagequeue.SubjectRunState+".>", handleRunStateEvent)
	if err != nil {
		return nil, fmt.Errorf("subscribe run events: %w", err)
	}
	slog.Info("run event subscriber started", "subject", messagequeue.SubjectRunState+".>")
	return cancel, nil
}

// handleRunStateEvent decodes and logs one run state event. A decode error
// is returned so the queue can redeliver or dead-letter the message.
func handleRunStateEvent(_ context.Context, subject string, data []byte) error {
	var ev messagequeue.RunStateEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("decode run state event on %s: %w", subject, err)
	}
	slog.Info("run event",
		"run_id", ev.RunID,
		"name", ev.Name,
		"state", ev.State,
		"attempt", ev.Attempts,
		"message", ev.Message,
	)
	return nil
}
