package service

import (
	"context"
	"sync"

	"github.com/Strob0t/FlowForge/internal/domain/run"
)

// RunResult is the terminal outcome of a run: the final state plus the
// work's payload (or the adopted cached payload). Error carries the failure
// message for failure states; it is informational, not a Go error.
type RunResult struct {
	State   run.State
	Payload any
	Error   string
}

// RunHandle is the caller's view of a submitted run: await its terminal
// result or cancel it. Handles are safe for concurrent use.
type RunHandle struct {
	id     string
	cancel context.CancelFunc

	once sync.Once
	done chan struct{}

	result RunResult
	err    error
}

func newRunHandle(id string, cancel context.CancelFunc) *RunHandle {
	return &RunHandle{id: id, cancel: cancel, done: make(chan struct{})}
}

// RunID returns the run's identity.
func (h *RunHandle) RunID() string { return h.id }

// Done returns a channel closed when the run reaches a terminal state.
func (h *RunHandle) Done() <-chan struct{} { return h.done }

// AwaitResult blocks until the run is terminal and returns its result.
// Worked-as-designed failures (Failed, Crashed, TimedOut, Cancelled) come
// back as the result's state, not as an error; the error return is reserved
// for the caller's ctx expiring and for configuration misuse such as a run
// whose tag can never be admitted.
func (h *RunHandle) AwaitResult(ctx context.Context) (RunResult, error) {
	select {
	case <-ctx.Done():
		return RunResult{}, ctx.Err()
	case <-h.done:
		return h.result, h.err
	}
}

// Cancel requests cooperative cancellation. The run observes the signal at
// its next suspension point; work already in flight is expected to watch
// its context and exit promptly. Safe to call more than once.
func (h *RunHandle) Cancel() {
	h.cancel()
}

// complete records the terminal outcome and releases waiters. Later calls
// are no-ops, which keeps finalization idempotent against races between
// cancellation and natural completion.
func (h *RunHandle) complete(res RunResult, err error) {
	h.once.Do(func() {
		h.result = res
		h.err = err
		close(h.done)
	})
}
