package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/FlowForge/internal/adapter/memory"
	"github.com/Strob0t/FlowForge/internal/domain/result"
	"github.com/Strob0t/FlowForge/internal/domain/run"
)

// mapCache is an in-process cache.Cache for tests.
type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMapCache() *mapCache {
	return &mapCache{data: make(map[string][]byte)}
}

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *mapCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func newTestResultCache(t *testing.T) (*ResultCacheService, *mapCache, *memory.Store, *time.Time) {
	t.Helper()
	c := newMapCache()
	store := memory.NewStore()
	svc := NewResultCacheService(c, store, time.Hour)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &now
	svc.now = func() time.Time { return *clock }
	return svc, c, store, clock
}

func entryFor(key string, at time.Time) *result.Entry {
	return &result.Entry{
		Key:       key,
		State:     run.StateCompleted,
		Payload:   []byte(`{"rows":10}`),
		CreatedAt: at,
	}
}

func TestResultCacheStoreThenLookup(t *testing.T) {
	svc, _, _, clock := newTestResultCache(t)
	ctx := context.Background()
	cfg := run.CacheConfig{Enabled: true}

	if _, ok, _ := svc.Lookup(ctx, cfg, "k1"); ok {
		t.Fatal("lookup before store should miss")
	}

	if err := svc.Store(ctx, cfg, entryFor("k1", *clock)); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	entry, ok, err := svc.Lookup(ctx, cfg, "k1")
	if err != nil || !ok {
		t.Fatalf("Lookup() = (%v, %v), want hit", ok, err)
	}
	if string(entry.Payload) != `{"rows":10}` {
		t.Errorf("payload = %s", entry.Payload)
	}
	if got := entry.ExpiresAt; !got.Equal(clock.Add(time.Hour)) {
		t.Errorf("default TTL not applied: expires at %v", got)
	}
}

func TestResultCacheLastWriteWins(t *testing.T) {
	svc, _, _, clock := newTestResultCache(t)
	ctx := context.Background()
	cfg := run.CacheConfig{Enabled: true}

	first := entryFor("k1", *clock)
	first.Payload = []byte(`"old"`)
	if err := svc.Store(ctx, cfg, first); err != nil {
		t.Fatal(err)
	}
	second := entryFor("k1", *clock)
	second.Payload = []byte(`"new"`)
	if err := svc.Store(ctx, cfg, second); err != nil {
		t.Fatal(err)
	}

	entry, ok, _ := svc.Lookup(ctx, cfg, "k1")
	if !ok || string(entry.Payload) != `"new"` {
		t.Errorf("lookup after overwrite = (%v, %s), want new payload", ok, entry.Payload)
	}
}

func TestResultCacheExpiryIsMiss(t *testing.T) {
	svc, _, _, clock := newTestResultCache(t)
	ctx := context.Background()
	cfg := run.CacheConfig{Enabled: true, TTL: 10 * time.Minute}

	if err := svc.Store(ctx, cfg, entryFor("k1", *clock)); err != nil {
		t.Fatal(err)
	}

	*clock = clock.Add(11 * time.Minute)
	if _, ok, err := svc.Lookup(ctx, cfg, "k1"); ok || err != nil {
		t.Errorf("Lookup() past TTL = (%v, %v), want miss", ok, err)
	}
}

func TestResultCacheRefreshBypassesRead(t *testing.T) {
	svc, _, _, clock := newTestResultCache(t)
	ctx := context.Background()

	if err := svc.Store(ctx, run.CacheConfig{Enabled: true}, entryFor("k1", *clock)); err != nil {
		t.Fatal(err)
	}

	if _, ok, _ := svc.Lookup(ctx, run.CacheConfig{Enabled: true, Refresh: true}, "k1"); ok {
		t.Error("refresh mode must not read existing entries")
	}

	// The refresh run's write still lands.
	refreshed := entryFor("k1", *clock)
	refreshed.Payload = []byte(`"refreshed"`)
	if err := svc.Store(ctx, run.CacheConfig{Enabled: true, Refresh: true}, refreshed); err != nil {
		t.Fatal(err)
	}
	entry, ok, _ := svc.Lookup(ctx, run.CacheConfig{Enabled: true}, "k1")
	if !ok || string(entry.Payload) != `"refreshed"` {
		t.Errorf("entry after refresh = (%v, %s)", ok, entry.Payload)
	}
}

func TestResultCacheWriteOnce(t *testing.T) {
	svc, _, _, clock := newTestResultCache(t)
	ctx := context.Background()
	cfg := run.CacheConfig{Enabled: true, WriteOnce: true, TTL: time.Minute}

	first := entryFor("k1", *clock)
	first.Payload = []byte(`"first"`)
	if err := svc.Store(ctx, cfg, first); err != nil {
		t.Fatalf("initial population rejected: %v", err)
	}

	second := entryFor("k1", *clock)
	second.Payload = []byte(`"second"`)
	if err := svc.Store(ctx, cfg, second); err != nil {
		t.Fatal(err)
	}
	entry, ok, _ := svc.Lookup(ctx, cfg, "k1")
	if !ok || string(entry.Payload) != `"first"` {
		t.Errorf("write-once entry overwritten: (%v, %s)", ok, entry.Payload)
	}

	// Expired but physically present still blocks the rewrite.
	*clock = clock.Add(2 * time.Minute)
	third := entryFor("k1", *clock)
	third.Payload = []byte(`"third"`)
	if err := svc.Store(ctx, cfg, third); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := svc.Lookup(ctx, cfg, "k1"); ok {
		t.Error("expired write-once entry should read as a miss")
	}
}

func TestResultCacheDurableFallbackBackfills(t *testing.T) {
	svc, c, store, clock := newTestResultCache(t)
	ctx := context.Background()
	cfg := run.CacheConfig{Enabled: true}

	// Entry exists only in the durable store, as after a process restart.
	entry := entryFor("k1", *clock)
	entry.ExpiresAt = clock.Add(time.Hour)
	if err := store.PutCacheEntry(ctx, entry); err != nil {
		t.Fatal(err)
	}

	got, ok, err := svc.Lookup(ctx, cfg, "k1")
	if err != nil || !ok {
		t.Fatalf("Lookup() = (%v, %v), want durable hit", ok, err)
	}
	if string(got.Payload) != `{"rows":10}` {
		t.Errorf("payload = %s", got.Payload)
	}
	if _, present, _ := c.Get(ctx, "k1"); !present {
		t.Error("durable hit was not backfilled into the cache")
	}
}

func TestResultCacheDisabledIsInert(t *testing.T) {
	svc, c, store, clock := newTestResultCache(t)
	ctx := context.Background()

	if err := svc.Store(ctx, run.CacheConfig{}, entryFor("k1", *clock)); err != nil {
		t.Fatal(err)
	}
	if len(c.data) != 0 {
		t.Error("disabled store wrote to the cache")
	}
	if _, err := store.GetCacheEntry(ctx, "k1"); err == nil {
		t.Error("disabled store wrote to the durable store")
	}
}
