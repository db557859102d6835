// Package tiered composes the in-process L1 cache with a shared L2 into
// one cache.Cache.
package tiered

import (
	"context"
	"time"

	"github.com/Strob0t/FlowForge/internal/domain/result"
	"github.com/Strob0t/FlowForge/internal/port/cache"
)

// Cache reads through L1 into L2 and writes through to both. An L2 hit is
// backfilled into L1 so subsequent reads in this process stay local.
type Cache struct {
	l1 cache.Cache
	l2 cache.Cache
	// l1Expire caps how long a backfilled record may live in L1, so a
	// record another process overwrites in L2 cannot be served stale here
	// forever.
	l1Expire time.Duration
	now      func() time.Time // for testing
}

// New creates a tiered cache over the given L1 and L2 backends.
func New(l1, l2 cache.Cache, l1Expire time.Duration) *Cache {
	return &Cache{l1: l1, l2: l2, l1Expire: l1Expire, now: time.Now}
}

// Get checks L1, then L2, backfilling L1 on an L2 hit. The backfill TTL is
// the entry's remaining lifetime capped at l1Expire; a record already past
// its expiration is returned as found (expiry policy belongs to the
// caller) but not backfilled.
func (c *Cache) Get(ctx context.Context, key string) (data []byte, ok bool, err error) {
	val, found, err := c.l1.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if found {
		return val, true, nil
	}

	val, found, err = c.l2.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}

	if ttl, keep := c.backfillTTL(val); keep {
		_ = c.l1.Set(ctx, key, val, ttl)
	}
	return val, true, nil
}

// backfillTTL derives the L1 lifetime for a record fetched from L2.
// Records that do not decode as entries, or carry no expiration, get the
// cap.
func (c *Cache) backfillTTL(val []byte) (time.Duration, bool) {
	entry, err := result.Unmarshal(val)
	if err != nil || entry.ExpiresAt.IsZero() {
		return c.l1Expire, true
	}
	remaining := entry.ExpiresAt.Sub(c.now())
	if remaining <= 0 {
		return 0, false
	}
	if c.l1Expire > 0 && remaining > c.l1Expire {
		return c.l1Expire, true
	}
	return remaining, true
}

// Set writes to both levels.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.l1.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	return c.l2.Set(ctx, key, value, ttl)
}

// Delete removes the key from both levels.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.l1.Delete(ctx, key); err != nil {
		return err
	}
	return c.l2.Delete(ctx, key)
}
