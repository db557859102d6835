package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	fotel "github.com/Strob0t/FlowForge/internal/adapter/otel"
	"github.com/Strob0t/FlowForge/internal/config"
	"github.com/Strob0t/FlowForge/internal/domain"
	"github.com/Strob0t/FlowForge/internal/domain/limit"
	"github.com/Strob0t/FlowForge/internal/domain/result"
	"github.com/Strob0t/FlowForge/internal/domain/retry"
	"github.com/Strob0t/FlowForge/internal/domain/run"
	"github.com/Strob0t/FlowForge/internal/port/database"
	"github.com/Strob0t/FlowForge/internal/port/messagequeue"
)

// activeRun is the orchestrator's registry entry for an in-flight run.
type activeRun struct {
	handle     *RunHandle
	resume     chan struct{}
	resumeOnce sync.Once
}

// Orchestrator drives runs end to end: cache consultation, admission,
// execution under a duration guard, retry scheduling and finalization.
// Each run's lifecycle is one goroutine; runs interact only through the
// limiter's slot table and the result cache.
type Orchestrator struct {
	cfg     *config.Config
	store   database.Store
	results *ResultCacheService
	limiter *LimiterService
	retries *retry.Engine
	queue   messagequeue.Queue // optional
	metrics *fotel.Metrics     // optional

	now       func() time.Time                     // for testing
	timeAfter func(time.Duration) <-chan time.Time // for testing

	mu       sync.Mutex
	active   map[string]*activeRun
	children map[string][]string

	wg sync.WaitGroup
}

// NewOrchestrator creates the run orchestrator. store, results and limiter
// are required; queue and metrics may be nil.
func NewOrchestrator(
	store database.Store,
	results *ResultCacheService,
	limiter *LimiterService,
	queue messagequeue.Queue,
	metrics *fotel.Metrics,
	cfg *config.Config,
) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		store:     store,
		results:   results,
		limiter:   limiter,
		retries:   retry.NewEngine(),
		queue:     queue,
		metrics:   metrics,
		now:       time.Now,
		timeAfter: time.After,
		active:    make(map[string]*activeRun),
		children:  make(map[string][]string),
	}
}

// SubmitRun accepts a unit of work and starts its lifecycle. Malformed
// definitions are rejected here as hard errors; everything that can go
// wrong after this point is captured as a terminal state on the run.
func (o *Orchestrator) SubmitRun(_ context.Context, def run.Definition, inputs map[string]any) (*RunHandle, error) {
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("submit run: %w", err)
	}
	o.applyDefaults(&def)

	r := run.New(uuid.NewString(), def.Name, def.Tags, o.now())
	r.ParentID = def.ParentID

	// The run outlives the submit call; its lifecycle is bounded by the
	// handle's cancel and the orchestrator's shutdown, not the caller's ctx.
	runCtx, cancel := context.WithCancel(context.Background())
	h := newRunHandle(r.ID, cancel)

	ar := &activeRun{handle: h, resume: make(chan struct{})}
	o.mu.Lock()
	o.active[r.ID] = ar
	if r.ParentID != "" {
		o.children[r.ParentID] = append(o.children[r.ParentID], r.ID)
	}
	o.mu.Unlock()

	if err := o.store.SaveRun(runCtx, r); err != nil {
		slog.Warn("run save failed", "run_id", r.ID, "error", err)
	}
	o.publishState(r, "run created")

	if o.metrics != nil {
		o.metrics.RunsStarted.Add(runCtx, 1)
	}
	slog.Info("run submitted", "run_id", r.ID, "name", r.Name, "tags", r.Tags)

	o.wg.Add(1)
	go o.lifecycle(runCtx, def, inputs, r, ar)

	return h, nil
}

// Children returns the IDs of runs submitted under the given parent. The
// parent link is a weak reference for grouping; the orchestrator never
// walks it for ownership.
func (o *Orchestrator) Children(parentID string) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.children[parentID]...)
}

// GetRun returns the persisted view of a run.
func (o *Orchestrator) GetRun(ctx context.Context, id string) (*run.Run, error) {
	return o.store.GetRun(ctx, id)
}

// Resume wakes a paused run. The run re-requests admission before it
// transitions back to Running.
func (o *Orchestrator) Resume(_ context.Context, id string) error {
	o.mu.Lock()
	ar, ok := o.active[id]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("run %s: %w", id, domain.ErrNotFound)
	}
	ar.resumeOnce.Do(func() { close(ar.resume) })
	return nil
}

// RegisterConcurrencyLimit configures a tag's slot ceiling.
func (o *Orchestrator) RegisterConcurrencyLimit(ctx context.Context, tag string, limit int) error {
	return o.limiter.RegisterLimit(ctx, tag, limit)
}

// RemoveConcurrencyLimit removes a tag's limit, making it unlimited.
func (o *Orchestrator) RemoveConcurrencyLimit(ctx context.Context, tag string) error {
	return o.limiter.RemoveLimit(ctx, tag)
}

// GetConcurrencyLimit returns a tag's limit and current active count, or
// domain.ErrNotFound for an unlimited tag.
func (o *Orchestrator) GetConcurrencyLimit(ctx context.Context, tag string) (*limit.Limit, error) {
	return o.limiter.GetLimit(ctx, tag)
}

// Shutdown waits for all in-flight run lifecycles to finish. Callers that
// want them to end promptly cancel their handles first.
func (o *Orchestrator) Shutdown() {
	o.wg.Wait()
}

// applyDefaults fills unset definition fields from engine configuration.
// A zero-value retry policy reads as unset; a definition that must never
// retry under non-zero engine defaults sets RetryIf to a constant false.
func (o *Orchestrator) applyDefaults(def *run.Definition) {
	p := &def.Retry
	if p.MaxRetries == 0 && p.Delay == 0 && len(p.Delays) == 0 && p.DelayFunc == nil && p.RetryIf == nil {
		p.MaxRetries = o.cfg.Retry.MaxRetries
		p.Delay = o.cfg.Retry.Delay
	}
	if def.Timeout == 0 {
		def.Timeout = o.cfg.Engine.DefaultTimeout
	}
}

// lifecycle drives one run from Pending to a terminal state. It is the
// run's single writer: no other goroutine touches r after SubmitRun.
func (o *Orchestrator) lifecycle(ctx context.Context, def run.Definition, inputs map[string]any, r *run.Run, ar *activeRun) {
	defer o.wg.Done()
	defer o.unregister(r.ID)

	start := o.now()

	// Cache key derivation. An underivable key disables caching for this
	// run and nothing else.
	if def.Cache.Enabled {
		key, err := ComputeCacheKey(&def, inputs)
		if err != nil {
			slog.Warn("caching disabled for run", "run_id", r.ID, "error", err)
			def.Cache.Enabled = false
		} else {
			r.CacheKey = key
			o.saveRun(ctx, r)
		}
	}

	// Cache adoption short-circuit: skip admission and execution entirely.
	if def.Cache.Enabled {
		entry, ok, err := o.results.Lookup(ctx, def.Cache, r.CacheKey)
		if err != nil {
			slog.Warn("cache lookup failed", "run_id", r.ID, "error", err)
		}
		if ok {
			r.Result = entry.Payload
			o.transition(ctx, r, run.StateCompleted, "adopted cached result")
			if o.metrics != nil {
				o.metrics.CacheHits.Add(ctx, 1)
				o.metrics.RunsCompleted.Add(ctx, 1)
			}
			ar.handle.complete(RunResult{State: run.StateCompleted, Payload: entry.Payload}, nil)
			return
		}
		if o.metrics != nil {
			o.metrics.CacheMisses.Add(ctx, 1)
		}
	}

	for {
		// Admission. Blocks cooperatively; holds nothing while waiting.
		if err := o.awaitAdmission(ctx, r); err != nil {
			if errors.Is(err, domain.ErrAdmissionDenied) {
				// Definitional abort: a zero-limit tag can never admit.
				o.transition(ctx, r, run.StateCancelled, err.Error())
				o.finalize(ctx, r, start, RunResult{State: run.StateCancelled, Error: err.Error()}, err)
				return
			}
			// Cancelled while waiting.
			o.transition(ctx, r, run.StateCancelled, "cancelled while waiting for admission")
			o.finalize(ctx, r, start, RunResult{State: run.StateCancelled}, nil)
			return
		}

		o.transition(ctx, r, run.StateRunning, fmt.Sprintf("admission granted (attempt %d)", r.Attempts))

		out := o.executeAttempt(ctx, &def, inputs)

		// Cancellation wins over whatever the work returned.
		if ctx.Err() != nil {
			o.limiter.Release(def.Tags)
			o.transition(ctx, r, run.StateCancelled, "cancelled during execution")
			o.finalize(ctx, r, start, RunResult{State: run.StateCancelled}, nil)
			return
		}

		var pause *run.PauseRequest
		if !out.timedOut && errors.As(out.err, &pause) {
			o.limiter.Release(def.Tags)
			done := o.awaitResume(ctx, r, ar, pause)
			if done != nil {
				o.finalize(ctx, r, start, *done, nil)
				return
			}
			continue // resumed: re-admit and re-execute
		}

		if out.err == nil {
			o.limiter.Release(def.Tags)
			r.Result = out.payload
			o.transition(ctx, r, run.StateCompleted, "succeeded")
			o.writeCache(ctx, &def, r, out.payload)
			if o.metrics != nil {
				o.metrics.RunsCompleted.Add(ctx, 1)
			}
			o.finalize(ctx, r, start, RunResult{State: run.StateCompleted, Payload: out.payload}, nil)
			return
		}

		failState := run.StateFailed
		switch {
		case out.timedOut:
			failState = run.StateTimedOut
		case out.panicked:
			failState = run.StateCrashed
		}
		o.limiter.Release(def.Tags)
		r.Error = out.err.Error()
		o.transition(ctx, r, failState, r.Error)

		decision := o.retries.Decide(&def, r, failState)
		if !decision.Retry {
			if o.metrics != nil {
				o.metrics.RunsFailed.Add(ctx, 1)
			}
			o.finalize(ctx, r, start, RunResult{State: failState, Error: r.Error}, nil)
			return
		}

		o.transition(ctx, r, run.StateRetrying,
			fmt.Sprintf("retrying in %s (%d of %d retries used)", decision.Delay, r.Attempts, def.Retry.MaxRetries))
		if o.metrics != nil {
			o.metrics.RunsRetried.Add(ctx, 1)
		}

		cancelled := o.sleep(ctx, decision.Delay)

		// Re-entry increments the attempt count; the run keeps its identity.
		o.transition(ctx, r, run.StatePending, fmt.Sprintf("attempt %d", r.Attempts+1))
		if cancelled {
			o.transition(ctx, r, run.StateCancelled, "cancelled during retry wait")
			o.finalize(ctx, r, start, RunResult{State: run.StateCancelled}, nil)
			return
		}
	}
}

// attemptOutcome classifies one execution attempt.
type attemptOutcome struct {
	payload  any
	err      error
	panicked bool
	timedOut bool
}

// executeAttempt runs the work under the per-attempt duration guard,
// converting panics into a crashed outcome instead of taking down the
// engine. The work runs in its own goroutine so the run leaves Running at
// the bound even when the work ignores its context; a late result from an
// abandoned attempt is discarded, never recorded or cached.
func (o *Orchestrator) executeAttempt(ctx context.Context, def *run.Definition, inputs map[string]any) attemptOutcome {
	attemptCtx := ctx
	if def.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, def.Timeout)
		defer cancel()
	}

	outCh := make(chan attemptOutcome, 1)
	go func() {
		defer func() {
			if v := recover(); v != nil {
				outCh <- attemptOutcome{err: fmt.Errorf("panic: %v", v), panicked: true}
			}
		}()
		payload, err := def.Work(attemptCtx, inputs)
		outCh <- attemptOutcome{payload: payload, err: err}
	}()

	select {
	case out := <-outCh:
		// A result delivered after the deadline does not count, success
		// included.
		if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return timedOutOutcome(def.Timeout, out.err)
		}
		return out
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			// Run-level cancellation; the lifecycle classifies it.
			return attemptOutcome{err: ctx.Err()}
		}
		return timedOutOutcome(def.Timeout, nil)
	}
}

func timedOutOutcome(bound time.Duration, cause error) attemptOutcome {
	if cause == nil {
		cause = context.DeadlineExceeded
	}
	return attemptOutcome{
		err:      fmt.Errorf("execution exceeded %s: %w", bound, cause),
		timedOut: true,
	}
}

// awaitAdmission blocks until the run's tag set is admitted. On denial it
// waits for a release wake-up or the fixed poll interval, whichever comes
// first. Returns ctx.Err() on cancellation and an ErrAdmissionDenied
// wrapper when a tag has limit zero.
func (o *Orchestrator) awaitAdmission(ctx context.Context, r *run.Run) error {
	waitStart := time.Time{}
	for {
		granted, err := o.limiter.TryAcquire(r.Tags)
		if err != nil {
			return err
		}
		if granted {
			if !waitStart.IsZero() && o.metrics != nil {
				o.metrics.AdmissionWait.Record(ctx, o.now().Sub(waitStart).Seconds())
			}
			return nil
		}

		if waitStart.IsZero() {
			waitStart = o.now()
			if o.metrics != nil {
				o.metrics.AdmissionWaits.Add(ctx, 1)
			}
			slog.Debug("run waiting for admission", "run_id", r.ID, "tags", r.Tags)
		}

		// Snapshot the broadcast channel before re-checking so a release
		// between TryAcquire and the select is not missed.
		released := o.limiter.Released()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-released:
		case <-o.timeAfter(o.cfg.Admission.PollInterval):
		}
	}
}

// awaitResume parks a paused run until resume, pause expiration or
// cancellation. A nil return means the run was resumed and should go back
// through admission; otherwise the returned result is terminal.
func (o *Orchestrator) awaitResume(ctx context.Context, r *run.Run, ar *activeRun, req *run.PauseRequest) *RunResult {
	msg := "paused"
	var expiry <-chan time.Time
	if req.Timeout > 0 {
		t := o.now().Add(req.Timeout)
		r.PauseExpiresAt = &t
		msg = fmt.Sprintf("paused until %s", t.Format(time.RFC3339))
		expiry = o.timeAfter(req.Timeout)
	}
	o.transition(ctx, r, run.StatePaused, msg)
	o.saveRun(ctx, r)

	select {
	case <-ctx.Done():
		o.transition(ctx, r, run.StateCancelled, "cancelled while paused")
		return &RunResult{State: run.StateCancelled}
	case <-expiry:
		o.transition(ctx, r, run.StateFailed, pauseExpiredMessage)
		r.PauseExpiresAt = nil
		if o.metrics != nil {
			o.metrics.RunsFailed.Add(ctx, 1)
		}
		return &RunResult{State: run.StateFailed, Error: pauseExpiredMessage}
	case <-ar.resume:
		r.PauseExpiresAt = nil
		o.saveRun(ctx, r)
		slog.Info("run resumed", "run_id", r.ID)
		return nil
	}
}

// sleep waits out d without holding any slot or lock. Reports whether the
// wait ended because the run was cancelled.
func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() != nil
	}
	select {
	case <-ctx.Done():
		return true
	case <-o.timeAfter(d):
		return false
	}
}

// writeCache stores a completed run's payload per the run's cache mode.
func (o *Orchestrator) writeCache(ctx context.Context, def *run.Definition, r *run.Run, payload any) {
	if !def.Cache.Enabled || r.CacheKey == "" {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("cache write skipped: payload not serializable", "run_id", r.ID, "error", err)
		return
	}
	entry := &result.Entry{
		Key:       r.CacheKey,
		State:     run.StateCompleted,
		Payload:   data,
		CreatedAt: o.now(),
	}
	if err := o.results.Store(ctx, def.Cache, entry); err != nil {
		slog.Warn("cache write failed", "run_id", r.ID, "error", err)
	}
}

// transition applies a state change, persists it and publishes the event.
// An illegal transition here is a programming error in the lifecycle, not
// a user condition; it is logged loudly and the run keeps its prior state.
func (o *Orchestrator) transition(ctx context.Context, r *run.Run, to run.State, message string) {
	if err := r.Transition(to, message, o.now()); err != nil {
		slog.Error("lifecycle attempted illegal transition", "run_id", r.ID, "error", err)
		return
	}
	if err := o.store.AppendRunState(ctx, r.ID, r.History[len(r.History)-1]); err != nil {
		slog.Warn("run state persist failed", "run_id", r.ID, "error", err)
	}
	o.saveRun(ctx, r)
	o.publishState(r, message)
	slog.Debug("run state changed", "run_id", r.ID, "state", to, "attempt", r.Attempts)
}

func (o *Orchestrator) saveRun(ctx context.Context, r *run.Run) {
	if err := o.store.SaveRun(ctx, r); err != nil {
		slog.Warn("run save failed", "run_id", r.ID, "error", err)
	}
}

// publishState emits a run state event. Best effort: event delivery never
// affects the run.
func (o *Orchestrator) publishState(r *run.Run, message string) {
	if o.queue == nil {
		return
	}
	data, err := json.Marshal(messagequeue.RunStateEvent{
		RunID:    r.ID,
		Name:     r.Name,
		ParentID: r.ParentID,
		State:    string(r.State),
		Message:  message,
		Attempts: r.Attempts,
	})
	if err != nil {
		return
	}
	subject := fmt.Sprintf("%s.%s", messagequeue.SubjectRunState, r.ID)
	if err := o.queue.Publish(context.Background(), subject, data); err != nil {
		slog.Warn("run event publish failed", "run_id", r.ID, "error", err)
	}
}

// finalize records duration metrics and delivers the terminal result.
func (o *Orchestrator) finalize(ctx context.Context, r *run.Run, start time.Time, res RunResult, err error) {
	if res.State == run.StateCancelled && err == nil && o.metrics != nil {
		o.metrics.RunsCancelled.Add(ctx, 1)
	}
	if o.metrics != nil {
		o.metrics.RunDuration.Record(ctx, o.now().Sub(start).Seconds())
	}
	o.mu.Lock()
	ar := o.active[r.ID]
	o.mu.Unlock()
	ar.handle.complete(res, err)
	slog.Info("run finalized", "run_id", r.ID, "state", r.State, "attempts", r.Attempts)
}

func (o *Orchestrator) unregister(id string) {
	o.mu.Lock()
	delete(o.active, id)
	o.mu.Unlock()
}
