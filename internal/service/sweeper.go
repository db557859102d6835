package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/Strob0t/FlowForge/internal/domain/run"
)

// pauseExpiredMessage is recorded on runs whose pause window lapsed with
// no resume.
const pauseExpiredMessage = "the run was paused and never resumed"

// StartPauseSweeper periodically fails persisted paused runs whose pause
// deadline has passed. In-flight runs handle their own expiry; the sweeper
// covers runs orphaned by a crash or restart, so it only touches the store.
// Blocks until ctx is cancelled.
func (o *Orchestrator) StartPauseSweeper(ctx context.Context) error {
	interval := o.cfg.Engine.PauseSweepInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("pause sweeper started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("pause sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			o.sweepExpiredPauses(ctx)
		}
	}
}

func (o *Orchestrator) sweepExpiredPauses(ctx context.Context) {
	runs, err := o.store.ListExpiredPaused(ctx, o.now(), o.cfg.Engine.PauseSweepBatch)
	if err != nil {
		slog.Warn("pause sweep query failed", "error", err)
		return
	}
	for i := range runs {
		r := &runs[i]
		// Skip runs this process still owns; their lifecycle goroutine
		// observes the expiry itself.
		o.mu.Lock()
		_, owned := o.active[r.ID]
		o.mu.Unlock()
		if owned {
			continue
		}
		r.PauseExpiresAt = nil
		r.Error = pauseExpiredMessage
		o.transition(ctx, r, run.StateFailed, pauseExpiredMessage)
		slog.Info("expired paused run failed", "run_id", r.ID)
	}
}
