package viewcache

import (
	"context"
	"time"
)

// Store is the cache collaborator contract. Implementations are never
// authoritative: every cached value must be reconstructible from the track
// store, and callers degrade to direct recomputation when a call fails.
type Store interface {
	// Get returns the cached value and whether the key was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Put stores a value with the given time-to-live.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Forget drops a key. Missing keys are not an error.
	Forget(ctx context.Context, key string) error
	// IncrementCounter atomically increments a numeric key and returns the
	// new value. The counter remains readable through Get as a decimal string.
	IncrementCounter(ctx context.Context, key string) (int64, error)
}
