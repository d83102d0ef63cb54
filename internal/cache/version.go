package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/VicenzaTech/psm-backend/internal/pkg/logger"
)

// VersionKeyPrefix prefixes the Store key holding a scope's version.
const VersionKeyPrefix = "cache_version:"

// VersionStore maps cache scopes to monotonically increasing versions.
type VersionStore struct {
	store   Store
	metrics *Metrics
}

// NewVersionStore creates a VersionStore on store.
func NewVersionStore(store Store, metrics *Metrics) *VersionStore {
	return &VersionStore{store: store, metrics: metrics}
}

// GetVersion returns the current version of scope. A scope that was never
// initialized, or whose stored value is not a positive integer, is reset to
// 1. Storage errors are logged and reported as version 1.
func (v *VersionStore) GetVersion(ctx context.Context, scope string) int64 {
	key := VersionKeyPrefix + scope

	raw, err := v.store.Get(ctx, key)
	switch {
	case err == nil:
		if n, perr := strconv.ParseInt(raw, 10, 64); perr == nil && n > 0 {
			return n
		}
		logger.Warn("cache version corrupt, resetting",
			zap.String("scope", scope),
			zap.String("value", raw),
		)
	case errors.Is(err, ErrCacheMiss):
	default:
		logger.Warn("cache version read failed",
			zap.String("scope", scope),
			zap.Error(err),
		)
		return 1
	}

	if err := v.store.Set(ctx, key, "1", 0); err != nil {
		logger.Warn("cache version init failed",
			zap.String("scope", scope),
			zap.Error(err),
		)
	}
	return 1
}

// Bump increments the version of scope and returns it. It returns 0 when the
// increment failed; nothing may be cached under version 0.
func (v *VersionStore) Bump(ctx context.Context, scope string) int64 {
	n, err := v.store.Incr(ctx, VersionKeyPrefix+scope)
	if err == nil && n <= 0 {
		err = fmt.Errorf("store returned non-positive version %d", n)
	}
	if err != nil {
		v.metrics.bump(scope, false)
		logger.Warn("cache version bump failed",
			zap.String("scope", scope),
			zap.Error(err),
		)
		return 0
	}
	v.metrics.bump(scope, true)
	return n
}
