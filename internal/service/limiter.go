package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Strob0t/FlowForge/internal/domain"
	"github.com/Strob0t/FlowForge/internal/domain/limit"
	"github.com/Strob0t/FlowForge/internal/port/database"
	"github.com/Strob0t/FlowForge/internal/port/messagequeue"
)

// slot tracks one tag's configured ceiling and current holders.
type slot struct {
	max    int
	active int
}

// LimiterService is the concurrency admission controller. Tags with a
// configured limit admit at most that many concurrent holders; tags with
// no limit are unlimited; a limit of zero always denies. Acquisition is
// all-or-nothing across a tag set.
//
// The slot table is the only shared state in the engine that needs
// serialized mutation; one mutex covers it.
type LimiterService struct {
	mu       sync.Mutex
	slots    map[string]*slot
	released chan struct{}

	store database.Store     // optional persistence
	queue messagequeue.Queue // optional change events
}

// NewLimiterService creates a limiter. store and queue may be nil.
func NewLimiterService(store database.Store, queue messagequeue.Queue) *LimiterService {
	return &LimiterService{
		slots:    make(map[string]*slot),
		released: make(chan struct{}),
		store:    store,
		queue:    queue,
	}
}

// Load hydrates configured limits from the durable store.
func (s *LimiterService) Load(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	limits, err := s.store.ListLimits(ctx)
	if err != nil {
		return fmt.Errorf("load limits: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range limits {
		if existing, ok := s.slots[l.Tag]; ok {
			existing.max = l.MaxSlots
			continue
		}
		s.slots[l.Tag] = &slot{max: l.MaxSlots}
	}
	slog.Info("concurrency limits loaded", "count", len(limits))
	return nil
}

// RegisterLimit creates or updates a tag's limit. Active holders are
// unaffected; a lowered limit only throttles future admissions.
func (s *LimiterService) RegisterLimit(ctx context.Context, tag string, maxSlots int) error {
	l := limit.Limit{Tag: tag, MaxSlots: maxSlots}
	if err := l.Validate(); err != nil {
		return err
	}

	if s.store != nil {
		if err := s.store.UpsertLimit(ctx, tag, maxSlots); err != nil {
			return fmt.Errorf("persist limit: %w", err)
		}
	}

	s.mu.Lock()
	if existing, ok := s.slots[tag]; ok {
		existing.max = maxSlots
	} else {
		s.slots[tag] = &slot{max: maxSlots}
	}
	s.wakeWaitersLocked()
	s.mu.Unlock()

	s.publishChange(ctx, tag, maxSlots, false)
	slog.Info("concurrency limit registered", "tag", tag, "max_slots", maxSlots)
	return nil
}

// RemoveLimit deletes a tag's limit, making the tag unlimited.
func (s *LimiterService) RemoveLimit(ctx context.Context, tag string) error {
	if s.store != nil {
		if err := s.store.DeleteLimit(ctx, tag); err != nil {
			return fmt.Errorf("delete limit: %w", err)
		}
	}

	s.mu.Lock()
	delete(s.slots, tag)
	s.wakeWaitersLocked()
	s.mu.Unlock()

	s.publishChange(ctx, tag, 0, true)
	slog.Info("concurrency limit removed", "tag", tag)
	return nil
}

// GetLimit returns the configured limit for tag, with its current active
// count, or domain.ErrNotFound if the tag is unlimited.
func (s *LimiterService) GetLimit(_ context.Context, tag string) (*limit.Limit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[tag]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &limit.Limit{Tag: tag, MaxSlots: sl.max, Active: sl.active}, nil
}

// TryAcquire attempts to take one slot for every limited tag in the set,
// atomically. It returns (true, nil) on grant, (false, nil) when some tag
// is full (backpressure: retry after the poll interval or a release), and
// (false, err wrapping domain.ErrAdmissionDenied) when a tag's limit is
// zero, which no amount of waiting can satisfy.
func (s *LimiterService) TryAcquire(tags []string) (bool, error) {
	uniq := dedupe(tags)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, tag := range uniq {
		sl, ok := s.slots[tag]
		if !ok {
			continue // unlimited
		}
		if sl.max == 0 {
			return false, fmt.Errorf("tag %q has limit 0: %w", tag, domain.ErrAdmissionDenied)
		}
		if sl.active >= sl.max {
			return false, nil
		}
	}

	// Every required slot is available; take them all.
	for _, tag := range uniq {
		if sl, ok := s.slots[tag]; ok {
			sl.active++
		}
	}
	return true, nil
}

// Release returns the slots held for the tag set. The limiter trusts the
// caller to release exactly once per successful acquire; counts floor at
// zero as a guard against double release.
func (s *LimiterService) Release(tags []string) {
	uniq := dedupe(tags)

	s.mu.Lock()
	for _, tag := range uniq {
		if sl, ok := s.slots[tag]; ok && sl.active > 0 {
			sl.active--
		}
	}
	s.wakeWaitersLocked()
	s.mu.Unlock()
}

// Released returns a channel that is closed on the next release or limit
// change, waking admission waiters. Callers re-fetch it after every wake.
func (s *LimiterService) Released() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// wakeWaitersLocked closes the current broadcast channel and installs a
// fresh one. Must be called with s.mu held.
func (s *LimiterService) wakeWaitersLocked() {
	close(s.released)
	s.released = make(chan struct{})
}

func (s *LimiterService) publishChange(ctx context.Context, tag string, maxSlots int, removed bool) {
	if s.queue == nil {
		return
	}
	data, err := json.Marshal(messagequeue.LimitChangedEvent{Tag: tag, MaxSlots: maxSlots, Removed: removed})
	if err != nil {
		return
	}
	if err := s.queue.Publish(ctx, messagequeue.SubjectLimitChanged, data); err != nil {
		slog.Warn("limit change publish failed", "tag", tag, "error", err)
	}
}

// dedupe returns the unique tags, preserving first-seen order.
func dedupe(tags []string) []string {
	if len(tags) < 2 {
		return tags
	}
	seen := make(map[string]bool, len(tags))
	out := tags[:0:0]
	for _, t := range tags {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
