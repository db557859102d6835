// Package run defines the Run domain entity and its state machine.
package run

import (
	"context"
	"time"
)

// State represents the lifecycle state of a run.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCrashed   State = "crashed"
	StateTimedOut  State = "timed_out"
	StateRetrying  State = "retrying"
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further automatic transition occurs from s.
// Retrying is transient: a failure state that has been chosen for retry is
// no longer terminal.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCrashed, StateTimedOut, StateCancelled:
		return true
	}
	return false
}

// Failure reports whether s is a failure state eligible for retry.
func (s State) Failure() bool {
	switch s {
	case StateFailed, StateCrashed, StateTimedOut:
		return true
	}
	return false
}

// StateChange is one entry in a run's append-only state history.
type StateChange struct {
	State     State     `json:"state"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message,omitempty"`
}

// Work is the unit of work a run executes. Inputs are the submit-time
// parameters, the same material the cache key is derived from. The returned
// payload is recorded on the run and, when caching is enabled, written to
// the result cache. Implementations are expected to observe ctx and return
// promptly on cancellation.
type Work func(ctx context.Context, inputs map[string]any) (any, error)

// Run represents a single unit of work moving through the state machine.
// One run keeps its identity across retries: the attempt count increments
// and the history grows, but the ID never changes.
type Run struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	ParentID        string         `json:"parent_id,omitempty"` // weak back-reference, lookup only
	State           State          `json:"state"`
	History         []StateChange  `json:"history"`
	Tags            []string       `json:"tags,omitempty"`
	Attempts        int            `json:"attempts"`
	CacheKey        string         `json:"cache_key,omitempty"`
	PauseExpiresAt  *time.Time     `json:"pause_expires_at,omitempty"`
	Result          any            `json:"result,omitempty"`
	Error           string         `json:"error,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// New creates a run in Pending with the initial history entry recorded.
func New(id, name string, tags []string, now time.Time) *Run {
	return &Run{
		ID:        id,
		Name:      name,
		State:     StatePending,
		History:   []StateChange{{State: StatePending, Timestamp: now, Message: "run created"}},
		Tags:      tags,
		Attempts:  1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
