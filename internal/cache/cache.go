package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/VicenzaTech/psm-backend/internal/pkg/logger"
)

// Cache scopes. Every write that can change a scope's list query bumps it.
const (
	ScopeWorkshops        = "workshops:all"
	ScopeProductionLines  = "production_lines:all"
	ScopeBrickTypes       = "brick_types:all"
	ScopeProductionPlans  = "production_plans:all"
	ScopeStageAssignments = "stage_assignments:all"
	ScopeDeviceMappings   = "stage_device_mappings:all"
)

// Canonical is the filter signature of a scope's unfiltered list query, the
// only query shape that is cached.
const Canonical = ""

// entityScope labels metrics for fixed-key lookups.
const entityScope = "entity"

// Default TTLs.
const (
	DefaultListTTL   = 60 * time.Second
	DefaultEntityTTL = 60 * time.Second
)

// Per-entity fixed keys.
func ProductionPlanKey(id int64) string  { return fmt.Sprintf("production_plan:%d", id) }
func StageAssignmentKey(id int64) string { return fmt.Sprintf("stage_assignment:%d", id) }
func BrickTypeKey(id int64) string       { return fmt.Sprintf("brick_type:%d", id) }

// Cache is the cache-aside layer over a Store.
type Cache struct {
	store    Store
	versions *VersionStore
	metrics  *Metrics
}

// New creates a Cache. metrics may be nil.
func New(store Store, metrics *Metrics) *Cache {
	return &Cache{
		store:    store,
		versions: NewVersionStore(store, metrics),
		metrics:  metrics,
	}
}

// Store returns the underlying key-value store.
func (c *Cache) Store() Store { return c.store }

// Versions returns the scope version store.
func (c *Cache) Versions() *VersionStore { return c.versions }

// ScopeKey returns the key the scope's canonical query is cached under now.
func (c *Cache) ScopeKey(ctx context.Context, scope string) string {
	return fmt.Sprintf("%s:v%d", scope, c.versions.GetVersion(ctx, scope))
}

// Invalidate bumps the version of each scope. Failures are logged by the
// version store and otherwise ignored.
func (c *Cache) Invalidate(ctx context.Context, scopes ...string) {
	if c == nil {
		return
	}
	for _, scope := range scopes {
		c.versions.Bump(ctx, scope)
	}
}

// Forget deletes fixed entity keys.
func (c *Cache) Forget(ctx context.Context, keys ...string) {
	if c == nil || len(keys) == 0 {
		return
	}
	if err := c.store.Del(ctx, keys...); err != nil {
		logger.Warn("cache delete failed",
			zap.Strings("keys", keys),
			zap.Error(err),
		)
	}
}

// Loader fetches the authoritative value on a cache miss.
type Loader[T any] func(ctx context.Context) (T, error)

// ReadThrough serves the canonical query of scope from the cache, calling
// load on a miss and caching its result for ttl. Any other signature
// bypasses the cache. A nil Cache always calls load.
func ReadThrough[T any](ctx context.Context, c *Cache, scope, signature string, ttl time.Duration, load Loader[T]) (T, error) {
	if c == nil || signature != Canonical {
		if c != nil {
			c.metrics.lookup(scope, resultBypass)
		}
		return load(ctx)
	}
	return read(ctx, c, scope, c.ScopeKey(ctx, scope), ttl, load)
}

// ReadOne serves a single entity from its fixed key. Writers remove the key
// with Forget.
func ReadOne[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, load Loader[T]) (T, error) {
	if c == nil {
		return load(ctx)
	}
	return read(ctx, c, entityScope, key, ttl, load)
}

func read[T any](ctx context.Context, c *Cache, scope, key string, ttl time.Duration, load Loader[T]) (T, error) {
	raw, err := c.store.Get(ctx, key)
	switch {
	case err == nil:
		var v T
		uerr := json.Unmarshal([]byte(raw), &v)
		if uerr == nil {
			c.metrics.lookup(scope, resultHit)
			return v, nil
		}
		c.metrics.lookup(scope, resultError)
		logger.Warn("cache entry undecodable, reloading",
			zap.String("key", key),
			zap.Error(uerr),
		)
	case errors.Is(err, ErrCacheMiss):
		c.metrics.lookup(scope, resultMiss)
	default:
		c.metrics.lookup(scope, resultError)
		logger.Warn("cache read failed",
			zap.String("key", key),
			zap.Error(err),
		)
	}

	v, err := load(ctx)
	if err != nil {
		return v, err
	}

	data, err := json.Marshal(v)
	if err != nil {
		logger.Warn("cache encode failed", zap.String("key", key), zap.Error(err))
		return v, nil
	}
	if err := c.store.Set(ctx, key, string(data), ttl); err != nil {
		logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
	return v, nil
}

// Signature renders the non-empty filters of a list query in a stable order.
// It returns Canonical when no filter is set.
func Signature(filters map[string]string) string {
	keys := make([]string, 0, len(filters))
	for k, v := range filters {
		if v != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return Canonical
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + filters[k]
	}
	return strings.Join(parts, "&")
}
