// Package cache provides a (key, value, TTL) cache abstraction. Callers
// treat the cache as best-effort: a miss or stale entry is always safe to
// recompute from storage, and no correctness property may depend on
// freshness.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss signals that a cache key was not found or had expired.
var ErrCacheMiss = errors.New("cache miss")

// Cache defines the minimal cache operations used by driftwatch.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// Noop implements Cache but never stores data.
type Noop struct{}

// Get always returns ErrCacheMiss.
func (Noop) Get(context.Context, string) ([]byte, error) { return nil, ErrCacheMiss }

// Set discards the value and returns nil.
func (Noop) Set(context.Context, string, []byte, time.Duration) error { return nil }

// Del is a no-op.
func (Noop) Del(context.Context, string) error { return nil }
