// Package memory implements the database store port with in-process maps,
// for single-process deployments and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Strob0t/FlowForge/internal/domain"
	"github.com/Strob0t/FlowForge/internal/domain/limit"
	"github.com/Strob0t/FlowForge/internal/domain/result"
	"github.com/Strob0t/FlowForge/internal/domain/run"
)

// Store implements database.Store with mutex-guarded maps.
type Store struct {
	mu      sync.RWMutex
	entries map[string]result.Entry
	limits  map[string]int
	runs    map[string]run.Run
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		entries: make(map[string]result.Entry),
		limits:  make(map[string]int),
		runs:    make(map[string]run.Run),
	}
}

// --- Cache entries ---

func (s *Store) GetCacheEntry(_ context.Context, key string) (*result.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := e
	return &cp, nil
}

func (s *Store) PutCacheEntry(_ context.Context, entry *result.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.Key] = *entry
	return nil
}

func (s *Store) DeleteCacheEntry(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// --- Concurrency limits ---

func (s *Store) ListLimits(_ context.Context) ([]limit.Limit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	limits := make([]limit.Limit, 0, len(s.limits))
	for tag, max := range s.limits {
		limits = append(limits, limit.Limit{Tag: tag, MaxSlots: max})
	}
	sort.Slice(limits, func(i, j int) bool { return limits[i].Tag < limits[j].Tag })
	return limits, nil
}

func (s *Store) GetLimit(_ context.Context, tag string) (*limit.Limit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	max, ok := s.limits[tag]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &limit.Limit{Tag: tag, MaxSlots: max}, nil
}

func (s *Store) UpsertLimit(_ context.Context, tag string, maxSlots int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limits[tag] = maxSlots
	return nil
}

func (s *Store) DeleteLimit(_ context.Context, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.limits, tag)
	return nil
}

// --- Runs ---

func (s *Store) SaveRun(_ context.Context, r *run.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	cp.History = append([]run.StateChange(nil), r.History...)
	cp.Tags = append([]string(nil), r.Tags...)
	s.runs[r.ID] = cp
	return nil
}

func (s *Store) GetRun(_ context.Context, id string) (*run.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := r
	cp.History = append([]run.StateChange(nil), r.History...)
	cp.Tags = append([]string(nil), r.Tags...)
	return &cp, nil
}

func (s *Store) AppendRunState(_ context.Context, runID string, change run.StateChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return domain.ErrNotFound
	}
	r.History = append(r.History, change)
	r.State = change.State
	r.UpdatedAt = change.Timestamp
	s.runs[runID] = r
	return nil
}

func (s *Store) ListExpiredPaused(_ context.Context, cutoff time.Time, batch int) ([]run.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var expired []run.Run
	for _, r := range s.runs {
		if r.State != run.StatePaused || r.PauseExpiresAt == nil {
			continue
		}
		if r.PauseExpiresAt.After(cutoff) {
			continue
		}
		expired = append(expired, r)
		if batch > 0 && len(expired) >= batch {
			break
		}
	}
	return expired, nil
}
