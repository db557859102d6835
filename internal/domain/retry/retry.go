// Package retry decides whether and when a failed run gets another attempt.
package retry

import (
	"math/rand"
	"sync"
	"time"

	"github.com/Strob0t/FlowForge/internal/domain/run"
)

// Decision is the outcome of evaluating a retry policy against a failed run.
type Decision struct {
	Retry bool
	// Delay is the jittered wait before the run re-enters Pending.
	Delay time.Duration
}

// Engine evaluates retry policies. The rand source is injectable so jitter
// is deterministic in tests. Safe for concurrent use.
type Engine struct {
	mu   sync.Mutex // guards rand, which is not goroutine-safe
	rand *rand.Rand
}

// NewEngine creates an engine seeded from the current time.
func NewEngine() *Engine {
	return &Engine{rand: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// NewEngineWithSource creates an engine with a caller-controlled source.
func NewEngineWithSource(src rand.Source) *Engine {
	return &Engine{rand: rand.New(src)}
}

// Decide applies the policy to a run that has just reached a failure state.
//
// The predicate is re-evaluated on every failure, not once per run, so a
// custom predicate sees the run's accumulated attempts each time. The
// attempt index used for the delay schedule is zero-based: the delay before
// retry N uses index N-1.
func (e *Engine) Decide(def *run.Definition, r *run.Run, final run.State) Decision {
	p := &def.Retry

	// Attempts counts executions so far; retries used is attempts-1.
	if r.Attempts-1 >= p.MaxRetries {
		return Decision{}
	}

	if p.RetryIf != nil {
		if !p.RetryIf(def, r, final) {
			return Decision{}
		}
	}

	base := baseDelay(p, r.Attempts-1)
	return Decision{Retry: true, Delay: e.jitter(base, p.JitterFactor)}
}

// baseDelay resolves the delay schedule for a zero-based attempt index.
func baseDelay(p *run.RetryPolicy, attempt int) time.Duration {
	if p.DelayFunc != nil {
		return clamp(p.DelayFunc(attempt), attempt)
	}
	if len(p.Delays) > 0 {
		return clamp(p.Delays, attempt)
	}
	return p.Delay
}

// clamp indexes a schedule by attempt, holding the last entry once the
// index runs past the end.
func clamp(delays []time.Duration, attempt int) time.Duration {
	if len(delays) == 0 {
		return 0
	}
	if attempt >= len(delays) {
		return delays[len(delays)-1]
	}
	return delays[attempt]
}

// jitter samples uniformly from [d, d*(1+factor)]. A zero factor returns d
// unchanged.
func (e *Engine) jitter(d time.Duration, factor float64) time.Duration {
	if factor <= 0 || d <= 0 {
		return d
	}
	spread := float64(d) * factor
	e.mu.Lock()
	sample := e.rand.Float64()
	e.mu.Unlock()
	return d + time.Duration(sample*spread)
}
