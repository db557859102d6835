// Package database defines the durable store port (interface).
package database

import (
	"context"
	"time"

	"github.com/Strob0t/FlowForge/internal/domain/limit"
	"github.com/Strob0t/FlowForge/internal/domain/result"
	"github.com/Strob0t/FlowForge/internal/domain/run"
)

// Store is the port interface for durable engine state: cache entries,
// concurrency limits, and per-run state history.
type Store interface {
	// Cache entries. PutCacheEntry is an unconditional last-write-wins
	// overwrite. GetCacheEntry returns domain.ErrNotFound for a missing
	// key; expiration is the caller's concern.
	GetCacheEntry(ctx context.Context, key string) (*result.Entry, error)
	PutCacheEntry(ctx context.Context, entry *result.Entry) error
	DeleteCacheEntry(ctx context.Context, key string) error

	// Concurrency limits.
	ListLimits(ctx context.Context) ([]limit.Limit, error)
	GetLimit(ctx context.Context, tag string) (*limit.Limit, error)
	UpsertLimit(ctx context.Context, tag string, maxSlots int) error
	DeleteLimit(ctx context.Context, tag string) error

	// Runs. SaveRun upserts the run row; AppendRunState records one state
	// history entry at the next position for the run.
	SaveRun(ctx context.Context, r *run.Run) error
	GetRun(ctx context.Context, id string) (*run.Run, error)
	AppendRunState(ctx context.Context, runID string, change run.StateChange) error

	// ListExpiredPaused returns up to batch runs paused past the cutoff,
	// for the pause expiration sweeper.
	ListExpiredPaused(ctx context.Context, cutoff time.Time, batch int) ([]run.Run, error)
}
