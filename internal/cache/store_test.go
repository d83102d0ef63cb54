package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VicenzaTech/psm-backend/internal/testutil"
)

// storeContract runs the behaviour every Store must share.
func storeContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, s.Set(ctx, "a", "1", time.Minute))
	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "1", got)

	require.NoError(t, s.Set(ctx, "a", "2", 0))
	got, err = s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "2", got)

	n, err := s.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	n, err = s.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	for _, corrupt := range []string{"not-a-number", "0", "-5"} {
		require.NoError(t, s.Set(ctx, "garbage", corrupt, 0))
		n, err = s.Incr(ctx, "garbage")
		require.NoError(t, err)
		assert.EqualValues(t, 1, n, "value %q", corrupt)
	}

	require.NoError(t, s.Del(ctx, "a", "counter", "never-set"))
	_, err = s.Get(ctx, "a")
	require.ErrorIs(t, err, ErrCacheMiss)
	n, err = s.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	require.NoError(t, s.Del(ctx))
}

func TestMemoryStore_Contract(t *testing.T) {
	t.Parallel()
	storeContract(t, NewMemoryStore())
}

func TestMemoryStore_ExpiryAndSweep(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Set(ctx, "short", "x", time.Second))
	require.NoError(t, s.Set(ctx, "long", "y", time.Hour))
	require.NoError(t, s.Set(ctx, "forever", "z", 0))

	now = now.Add(2 * time.Second)
	_, err := s.Get(ctx, "short")
	require.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, s.Set(ctx, "short2", "x", time.Second))
	now = now.Add(2 * time.Second)
	removed, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)
	assert.Equal(t, 2, s.Len())
}

func TestMemoryStore_IncrKeepsLiveTTLAndResetsExpired(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Set(ctx, "n", "5", time.Minute))
	n, err := s.Incr(ctx, "n")
	require.NoError(t, err)
	assert.EqualValues(t, 6, n)

	now = now.Add(2 * time.Minute)
	n, err = s.Incr(ctx, "n")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n, "expired value counts as zero")

	now = now.Add(24 * time.Hour)
	got, err := s.Get(ctx, "n")
	require.NoError(t, err, "a key revived by Incr has no expiry")
	assert.Equal(t, "1", got)
}

func TestPostgresStore_Contract(t *testing.T) {
	pool := testutil.OpenSchemaPool(t, "cache_store")
	s := NewPostgresStore(pool)
	storeContract(t, s)

	ctx := context.Background()
	_, err := pool.Exec(ctx, `INSERT INTO cache_entries (key, value, expires_at) VALUES ('stale', '41', now() - interval '1 second')`)
	require.NoError(t, err)

	_, err = s.Get(ctx, "stale")
	require.ErrorIs(t, err, ErrCacheMiss)

	removed, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	n, err := s.Incr(ctx, "stale")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}
