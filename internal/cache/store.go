// Package cache implements the versioned cache-aside layer that backs every
// read path.
//
// All state lives behind Store, a narrow get/set/del/incr key-value contract.
// Scoped list results are cached under "scope:v{version}"; a write bumps the
// scope version and the old key is simply abandoned until its TTL expires.
// Single-entity lookups use a fixed key that writers delete explicitly.
//
// Caching is best-effort. Store failures are logged and counted, and the
// caller always gets the loader's answer.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned by Store.Get when the key is absent or expired.
var ErrCacheMiss = errors.New("cache: miss")

// Store is the shared key-value service used for cached values and scope
// versions. A ttl <= 0 passed to Set means the key never expires.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	// Incr atomically increments the integer at key and returns the new
	// value. A missing, expired or non-numeric value counts as 0.
	Incr(ctx context.Context, key string) (int64, error)
}

// Sweeper is implemented by stores that hold expired entries until an
// explicit cleanup.
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}
