package run

import (
	"fmt"
	"time"

	"github.com/Strob0t/FlowForge/internal/domain"
)

// RetryPredicate overrides the default "retry on any failure" policy. It is
// re-evaluated on every failure, so a predicate may change its answer as the
// run accumulates attempts.
type RetryPredicate func(def *Definition, r *Run, final State) bool

// DelayFunc generates the retry delay for a zero-based attempt index. It may
// return a single delay or a schedule; a schedule is indexed by attempt and
// clamped to its last entry.
type DelayFunc func(attempt int) []time.Duration

// RetryPolicy controls whether and when a failed run is retried.
//
// The delay schedule is resolved in order: DelayFunc if set, else Delays if
// non-empty, else the fixed Delay. JitterFactor widens the sampled delay to
// [delay, delay*(1+JitterFactor)]; zero jitter is deterministic.
type RetryPolicy struct {
	MaxRetries   int
	Delay        time.Duration
	Delays       []time.Duration
	DelayFunc    DelayFunc
	JitterFactor float64
	RetryIf      RetryPredicate
}

// Validate rejects malformed policy configuration. This is a hard error at
// submit time, never a run failure.
func (p *RetryPolicy) Validate() error {
	if p.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative: %w", domain.ErrValidation)
	}
	if p.Delay < 0 {
		return fmt.Errorf("delay must be non-negative: %w", domain.ErrValidation)
	}
	for i, d := range p.Delays {
		if d < 0 {
			return fmt.Errorf("delays[%d] must be non-negative: %w", i, domain.ErrValidation)
		}
	}
	if p.JitterFactor < 0 {
		return fmt.Errorf("jitter_factor must be non-negative: %w", domain.ErrValidation)
	}
	return nil
}

// CacheConfig controls result caching for a run.
type CacheConfig struct {
	// Enabled turns result caching on for the run.
	Enabled bool
	// Refresh bypasses lookup (always a miss) but still writes on success.
	Refresh bool
	// WriteOnce skips the cache write when an entry already exists for the
	// key; first population is still permitted. Lookup behaves normally.
	WriteOnce bool
	// TTL bounds the entry lifetime. Zero means the orchestrator default.
	TTL time.Duration
	// Version participates in the cache key, so bumping it invalidates
	// previously cached results for the same inputs.
	Version string
}

// Definition describes a unit of work to submit: identity, tag set for
// admission, retry policy, cache behavior and execution bounds.
type Definition struct {
	Name     string
	ParentID string
	Tags     []string
	// Retry controls re-execution after failures. A zero-value policy is
	// treated as unset and replaced by the engine's configured defaults at
	// submit time; to force "never retry" when the engine default allows
	// retries, set RetryIf to a predicate that returns false.
	Retry RetryPolicy
	Cache CacheConfig
	// Timeout bounds a single execution attempt. Zero means no bound.
	Timeout time.Duration
	Work    Work
}

// Validate checks that a Definition is submittable.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("name is required: %w", domain.ErrValidation)
	}
	if d.Work == nil {
		return fmt.Errorf("work function is required: %w", domain.ErrValidation)
	}
	if d.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative: %w", domain.ErrValidation)
	}
	if err := d.Retry.Validate(); err != nil {
		return fmt.Errorf("retry policy: %w", err)
	}
	if d.Cache.TTL < 0 {
		return fmt.Errorf("cache ttl must be non-negative: %w", domain.ErrValidation)
	}
	return nil
}
