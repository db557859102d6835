package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/FlowForge/internal/domain"
	"github.com/Strob0t/FlowForge/internal/domain/result"
	"github.com/Strob0t/FlowForge/internal/domain/run"
	"github.com/Strob0t/FlowForge/internal/port/cache"
	"github.com/Strob0t/FlowForge/internal/port/database"
)

// ResultCacheService maps cache keys to previously observed terminal
// states. Fast lookups go through the cache backend (typically tiered
// L1/L2); the durable store, when configured, is the fallback source and
// the write-through target for cross-process reuse.
type ResultCacheService struct {
	cache      cache.Cache
	store      database.Store
	defaultTTL time.Duration
	now        func() time.Time // for testing
}

// NewResultCacheService creates a result cache. Either backend may be nil:
// a nil cache skips the fast path, a nil store skips durability. Both nil
// disables caching entirely (every lookup misses, every store is dropped).
func NewResultCacheService(c cache.Cache, store database.Store, defaultTTL time.Duration) *ResultCacheService {
	return &ResultCacheService{
		cache:      c,
		store:      store,
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// Lookup returns the entry for key if one exists and is not expired.
// Refresh mode bypasses the read entirely ("write without read") so the
// run always executes.
func (s *ResultCacheService) Lookup(ctx context.Context, cfg run.CacheConfig, key string) (*result.Entry, bool, error) {
	if !cfg.Enabled || key == "" || cfg.Refresh {
		return nil, false, nil
	}

	if s.cache != nil {
		data, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			return nil, false, fmt.Errorf("cache get: %w", err)
		}
		if ok {
			entry, err := result.Unmarshal(data)
			if err != nil {
				// A corrupt record is a miss; drop it so it is rewritten.
				slog.Warn("dropping unreadable cache entry", "key", key, "error", err)
				_ = s.cache.Delete(ctx, key)
			} else if !entry.Expired(s.now()) {
				return entry, true, nil
			}
		}
	}

	if s.store != nil {
		entry, err := s.store.GetCacheEntry(ctx, key)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, false, nil
			}
			return nil, false, fmt.Errorf("store get: %w", err)
		}
		if !entry.Expired(s.now()) {
			s.backfill(ctx, entry)
			return entry, true, nil
		}
	}

	return nil, false, nil
}

// Store writes the terminal result for key. The write is an unconditional
// last-write-wins overwrite, except in WriteOnce mode where an existing
// entry (even an expired one still physically present) blocks the write;
// first population is always permitted.
func (s *ResultCacheService) Store(ctx context.Context, cfg run.CacheConfig, entry *result.Entry) error {
	if !cfg.Enabled || entry.Key == "" {
		return nil
	}

	if cfg.WriteOnce {
		populated, err := s.exists(ctx, entry.Key)
		if err != nil {
			return err
		}
		if populated {
			return nil
		}
	}

	if entry.ExpiresAt.IsZero() {
		ttl := cfg.TTL
		if ttl == 0 {
			ttl = s.defaultTTL
		}
		if ttl > 0 {
			entry.ExpiresAt = entry.CreatedAt.Add(ttl)
		}
	}

	if s.cache != nil {
		data, err := entry.Marshal()
		if err != nil {
			return fmt.Errorf("marshal entry: %w", err)
		}
		var ttl time.Duration
		if !entry.ExpiresAt.IsZero() {
			ttl = entry.ExpiresAt.Sub(s.now())
		}
		if err := s.cache.Set(ctx, entry.Key, data, ttl); err != nil {
			return fmt.Errorf("cache set: %w", err)
		}
	}

	if s.store != nil {
		if err := s.store.PutCacheEntry(ctx, entry); err != nil {
			return fmt.Errorf("store put: %w", err)
		}
	}

	return nil
}

// exists reports whether any record is physically present for key,
// regardless of expiration.
func (s *ResultCacheService) exists(ctx context.Context, key string) (bool, error) {
	if s.cache != nil {
		_, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			return false, fmt.Errorf("cache get: %w", err)
		}
		if ok {
			return true, nil
		}
	}
	if s.store != nil {
		_, err := s.store.GetCacheEntry(ctx, key)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return false, fmt.Errorf("store get: %w", err)
		}
	}
	return false, nil
}

// backfill pushes a durable-store hit into the cache backend so the next
// lookup takes the fast path. Best effort.
func (s *ResultCacheService) backfill(ctx context.Context, entry *result.Entry) {
	if s.cache == nil {
		return
	}
	data, err := entry.Marshal()
	if err != nil {
		return
	}
	var ttl time.Duration
	if !entry.ExpiresAt.IsZero() {
		ttl = entry.ExpiresAt.Sub(s.now())
	}
	if err := s.cache.Set(ctx, entry.Key, data, ttl); err != nil {
		slog.Warn("cache backfill failed", "key", entry.Key, "error", err)
	}
}
