// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Handler processes a message received from the queue.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subject constants for engine events.
const (
	// SubjectRunState carries run state change events. The run ID is
	// appended as the final token: runs.state.<run_id>.
	SubjectRunState = "runs.state"

	// SubjectLimitChanged carries concurrency limit create/update/remove
	// events for external observers.
	SubjectLimitChanged = "limits.changed"
)

// RunStateEvent is the schema for runs.state messages.
type RunStateEvent struct {
	RunID    string `json:"run_id"`
	Name     string `json:"name"`
	ParentID string `json:"parent_id,omitempty"`
	State    string `json:"state"`
	Message  string `json:"message,omitempty"`
	Attempts int    `json:"attempts"`
}

// LimitChangedEvent is the schema for limits.changed messages.
type LimitChangedEvent struct {
	Tag      string `json:"tag"`
	MaxSlots int    `json:"max_slots"`
	Removed  bool   `json:"removed,omitempty"`
}
