// Package cache defines the port interface for result cache backends.
package cache

import (
	"context"
	"time"
)

// Cache is the port interface for key-value cache backends. Values are
// opaque whole-record blobs; a Set for an existing key is an unconditional
// overwrite (last write wins).
type Cache interface {
	Get(ctx context.Context, key string) (data []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
