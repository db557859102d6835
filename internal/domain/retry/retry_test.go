package retry

import (
	"math/rand"
	"testing"
	"time"

	"github.com/Strob0t/FlowForge/internal/domain/run"
)

func defWith(p run.RetryPolicy) *run.Definition {
	return &run.Definition{Name: "etl", Retry: p}
}

func failedRun(attempts int) *run.Run {
	r := run.New("r1", "etl", nil, time.Now())
	r.Attempts = attempts
	r.State = run.StateFailed
	return r
}

func TestNoRetryWhenExhausted(t *testing.T) {
	e := NewEngineWithSource(rand.NewSource(1))
	def := defWith(run.RetryPolicy{MaxRetries: 2, Delay: time.Second})

	if d := e.Decide(def, failedRun(1), run.StateFailed); !d.Retry {
		t.Fatal("expected retry on first failure")
	}
	if d := e.Decide(def, failedRun(2), run.StateFailed); !d.Retry {
		t.Fatal("expected retry on second failure")
	}
	if d := e.Decide(def, failedRun(3), run.StateFailed); d.Retry {
		t.Fatal("expected finalize after max retries")
	}
}

func TestZeroMaxRetriesNeverRetries(t *testing.T) {
	e := NewEngineWithSource(rand.NewSource(1))
	def := defWith(run.RetryPolicy{MaxRetries: 0})

	if d := e.Decide(def, failedRun(1), run.StateFailed); d.Retry {
		t.Fatal("expected no retry with max_retries=0")
	}
}

func TestPredicateOverridesDefault(t *testing.T) {
	e := NewEngineWithSource(rand.NewSource(1))

	// Predicate that refuses crashed runs but retries failed ones.
	def := defWith(run.RetryPolicy{
		MaxRetries: 5,
		RetryIf: func(_ *run.Definition, _ *run.Run, final run.State) bool {
			return final != run.StateCrashed
		},
	})

	if d := e.Decide(def, failedRun(1), run.StateCrashed); d.Retry {
		t.Fatal("predicate should have refused crashed run")
	}
	if d := e.Decide(def, failedRun(1), run.StateFailed); !d.Retry {
		t.Fatal("predicate should have allowed failed run")
	}
}

func TestPredicateReevaluatedPerFailure(t *testing.T) {
	e := NewEngineWithSource(rand.NewSource(1))

	calls := 0
	def := defWith(run.RetryPolicy{
		MaxRetries: 5,
		RetryIf: func(_ *run.Definition, r *run.Run, _ run.State) bool {
			calls++
			return r.Attempts < 3
		},
	})

	if d := e.Decide(def, failedRun(2), run.StateFailed); !d.Retry {
		t.Fatal("expected retry at attempt 2")
	}
	if d := e.Decide(def, failedRun(3), run.StateFailed); d.Retry {
		t.Fatal("expected finalize at attempt 3")
	}
	if calls != 2 {
		t.Fatalf("expected predicate evaluated twice, got %d", calls)
	}
}

func TestFixedDelay(t *testing.T) {
	e := NewEngineWithSource(rand.NewSource(1))
	def := defWith(run.RetryPolicy{MaxRetries: 3, Delay: 5 * time.Second})

	for attempts := 1; attempts <= 3; attempts++ {
		d := e.Decide(def, failedRun(attempts), run.StateFailed)
		if !d.Retry || d.Delay != 5*time.Second {
			t.Fatalf("attempt %d: got %+v, want fixed 5s", attempts, d)
		}
	}
}

func TestDelayListClampsToLastEntry(t *testing.T) {
	e := NewEngineWithSource(rand.NewSource(1))
	def := defWith(run.RetryPolicy{
		MaxRetries: 5,
		Delays:     []time.Duration{time.Second, 10 * time.Second},
	})

	want := []time.Duration{time.Second, 10 * time.Second, 10 * time.Second, 10 * time.Second}
	for i, w := range want {
		d := e.Decide(def, failedRun(i+1), run.StateFailed)
		if !d.Retry || d.Delay != w {
			t.Fatalf("attempt %d: got %+v, want delay %v", i+1, d, w)
		}
	}
}

func TestDelayFuncSingleAndSequence(t *testing.T) {
	e := NewEngineWithSource(rand.NewSource(1))

	// Generator returning a single value per attempt.
	def := defWith(run.RetryPolicy{
		MaxRetries: 4,
		DelayFunc: func(attempt int) []time.Duration {
			return []time.Duration{time.Duration(attempt+1) * time.Second}
		},
	})
	for i := 1; i <= 3; i++ {
		d := e.Decide(def, failedRun(i), run.StateFailed)
		if d.Delay != time.Duration(i)*time.Second {
			t.Fatalf("attempt %d: got %v, want %v", i, d.Delay, time.Duration(i)*time.Second)
		}
	}

	// Generator returning a schedule: same index/clamp rule as a list.
	seq := []time.Duration{2 * time.Second, 4 * time.Second}
	def = defWith(run.RetryPolicy{
		MaxRetries: 5,
		DelayFunc:  func(int) []time.Duration { return seq },
	})
	want := []time.Duration{2 * time.Second, 4 * time.Second, 4 * time.Second}
	for i, w := range want {
		d := e.Decide(def, failedRun(i+1), run.StateFailed)
		if d.Delay != w {
			t.Fatalf("attempt %d: got %v, want %v", i+1, d.Delay, w)
		}
	}
}

func TestJitterBounds(t *testing.T) {
	e := NewEngineWithSource(rand.NewSource(42))
	base := 2 * time.Second
	factor := 0.5
	def := defWith(run.RetryPolicy{MaxRetries: 1, Delay: base, JitterFactor: factor})

	upper := time.Duration(float64(base) * (1 + factor))
	for i := 0; i < 1000; i++ {
		d := e.Decide(def, failedRun(1), run.StateFailed)
		if d.Delay < base || d.Delay > upper {
			t.Fatalf("sample %d: delay %v outside [%v, %v]", i, d.Delay, base, upper)
		}
	}
}

func TestZeroJitterIsDeterministic(t *testing.T) {
	e := NewEngineWithSource(rand.NewSource(42))
	def := defWith(run.RetryPolicy{MaxRetries: 1, Delay: 3 * time.Second})

	for i := 0; i < 10; i++ {
		if d := e.Decide(def, failedRun(1), run.StateFailed); d.Delay != 3*time.Second {
			t.Fatalf("expected deterministic 3s, got %v", d.Delay)
		}
	}
}
