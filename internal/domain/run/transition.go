package run

import (
	"fmt"
	"time"

	"github.com/Strob0t/FlowForge/internal/domain"
)

// transitions is the closed transition table. Any state change not listed
// here is rejected with an IllegalTransitionError.
//
// Pending -> Completed is the cache adoption path: a run that hits the
// result cache records the adopted terminal state without ever running.
var transitions = map[State][]State{
	StatePending:  {StateRunning, StateCompleted, StateCancelled},
	StateRunning:  {StateCompleted, StateFailed, StateCrashed, StateTimedOut, StatePaused, StateCancelled},
	StatePaused:   {StateRunning, StateFailed, StateCancelled},
	StateFailed:   {StateRetrying},
	StateCrashed:  {StateRetrying},
	StateTimedOut: {StateRetrying},
	StateRetrying: {StatePending},
	// Completed and Cancelled have no outgoing edges.
}

// IllegalTransitionError reports a rejected state change. It unwraps to
// domain.ErrIllegalTransition.
type IllegalTransitionError struct {
	RunID string
	From  State
	To    State
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("run %s: illegal transition %s -> %s", e.RunID, e.From, e.To)
}

func (e *IllegalTransitionError) Unwrap() error {
	return domain.ErrIllegalTransition
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition appends a state change to the run's history and updates the
// current state. The attempt count increments only on Retrying -> Pending,
// which is how a retry re-enters the machine without a new run identity.
// On an illegal transition the run is left unchanged.
func (r *Run) Transition(to State, message string, now time.Time) error {
	if !CanTransition(r.State, to) {
		return &IllegalTransitionError{RunID: r.ID, From: r.State, To: to}
	}
	if r.State == StateRetrying && to == StatePending {
		r.Attempts++
	}
	r.State = to
	r.History = append(r.History, StateChange{State: to, Timestamp: now, Message: message})
	r.UpdatedAt = now
	return nil
}
