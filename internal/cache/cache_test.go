package cache

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/VicenzaTech/psm-backend/internal/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Replace(zap.NewNop())
	os.Exit(m.Run())
}

// failingStore fails every operation.
type failingStore struct{}

var errStoreDown = errors.New("store down")

func (failingStore) Get(context.Context, string) (string, error) { return "", errStoreDown }
func (failingStore) Set(context.Context, string, string, time.Duration) error {
	return errStoreDown
}
func (failingStore) Del(context.Context, ...string) error        { return errStoreDown }
func (failingStore) Incr(context.Context, string) (int64, error) { return 0, errStoreDown }

type plan struct {
	ID   int64  `json:"id"`
	Code string `json:"code"`
}

func countingLoader(calls *int32, out []plan) Loader[[]plan] {
	return func(context.Context) ([]plan, error) {
		atomic.AddInt32(calls, 1)
		return out, nil
	}
}

func TestReadThrough_SecondCanonicalReadIsServedFromCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := New(NewMemoryStore(), nil)

	var calls int32
	load := countingLoader(&calls, []plan{{ID: 1, Code: "P-001"}})

	first, err := ReadThrough(ctx, c, ScopeProductionPlans, Canonical, DefaultListTTL, load)
	require.NoError(t, err)
	second, err := ReadThrough(ctx, c, ScopeProductionPlans, Canonical, DefaultListTTL, load)
	require.NoError(t, err)

	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	assert.Equal(t, first, second)
}

func TestReadThrough_BumpAbandonsPreviousKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := New(NewMemoryStore(), nil)

	_, err := ReadThrough(ctx, c, ScopeProductionPlans, Canonical, DefaultListTTL,
		func(context.Context) ([]plan, error) { return []plan{{ID: 1, Code: "old"}}, nil })
	require.NoError(t, err)
	require.Equal(t, "production_plans:all:v1", c.ScopeKey(ctx, ScopeProductionPlans))

	c.Invalidate(ctx, ScopeProductionPlans)
	require.Equal(t, "production_plans:all:v2", c.ScopeKey(ctx, ScopeProductionPlans))

	got, err := ReadThrough(ctx, c, ScopeProductionPlans, Canonical, DefaultListTTL,
		func(context.Context) ([]plan, error) { return []plan{{ID: 1, Code: "new"}}, nil })
	require.NoError(t, err)
	assert.Equal(t, "new", got[0].Code)
}

func TestReadThrough_FilteredQueryBypassesCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore()
	c := New(store, nil)

	var calls int32
	load := countingLoader(&calls, nil)
	sig := Signature(map[string]string{"status": "DRAFT"})
	for i := 0; i < 3; i++ {
		_, err := ReadThrough(ctx, c, ScopeProductionPlans, sig, DefaultListTTL, load)
		require.NoError(t, err)
	}
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
	assert.Equal(t, 0, store.Len(), "bypassed reads must not touch the store")
}

func TestReadThrough_LoaderErrorIsNotCached(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := New(NewMemoryStore(), nil)
	boom := errors.New("db unavailable")

	_, err := ReadThrough(ctx, c, ScopeWorkshops, Canonical, DefaultListTTL,
		func(context.Context) ([]plan, error) { return nil, boom })
	require.ErrorIs(t, err, boom)

	var calls int32
	_, err = ReadThrough(ctx, c, ScopeWorkshops, Canonical, DefaultListTTL, countingLoader(&calls, []plan{}))
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls)
}

func TestReadThrough_StoreFailureFallsBackToLoader(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.WarnLevel)
	restore := logger.Replace(zap.New(core))
	defer restore()

	c := New(failingStore{}, nil)
	var calls int32
	want := []plan{{ID: 7, Code: "P-007"}}

	got, err := ReadThrough(ctx, c, ScopeProductionPlans, Canonical, DefaultListTTL, countingLoader(&calls, want))
	require.NoError(t, err)
	assert.Equal(t, want, got)

	got, err = ReadThrough(ctx, c, ScopeProductionPlans, Canonical, DefaultListTTL, countingLoader(&calls, want))
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.EqualValues(t, 2, calls)

	assert.NotZero(t, logs.FilterMessage("cache read failed").Len())
	assert.NotZero(t, logs.FilterMessage("cache write failed").Len())
	assert.NotZero(t, logs.FilterMessage("cache version read failed").Len())
}

func TestReadThrough_UndecodableEntryReloads(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore()
	c := New(store, nil)

	key := c.ScopeKey(ctx, ScopeBrickTypes)
	require.NoError(t, store.Set(ctx, key, "{not json", time.Minute))

	var calls int32
	got, err := ReadThrough(ctx, c, ScopeBrickTypes, Canonical, DefaultListTTL, countingLoader(&calls, []plan{{ID: 2}}))
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.EqualValues(t, 1, calls)

	raw, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":2,"code":""}]`, raw)
}

func TestReadThrough_NilCacheCallsLoader(t *testing.T) {
	t.Parallel()
	var calls int32
	_, err := ReadThrough[[]plan](context.Background(), nil, ScopeWorkshops, Canonical, DefaultListTTL, countingLoader(&calls, nil))
	require.NoError(t, err)
	_, err = ReadOne[[]plan](context.Background(), nil, "k", DefaultEntityTTL, countingLoader(&calls, nil))
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls)
}

func TestReadOne_ForgetDropsFixedKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := New(NewMemoryStore(), nil)
	key := ProductionPlanKey(42)
	assert.Equal(t, "production_plan:42", key)

	var calls int32
	load := func(context.Context) (plan, error) {
		atomic.AddInt32(&calls, 1)
		return plan{ID: 42, Code: "P-042"}, nil
	}

	_, err := ReadOne(ctx, c, key, DefaultEntityTTL, load)
	require.NoError(t, err)
	_, err = ReadOne(ctx, c, key, DefaultEntityTTL, load)
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls)

	c.Forget(ctx, key)
	_, err = ReadOne(ctx, c, key, DefaultEntityTTL, load)
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls)
}

func TestReadThrough_ExpiredEntryReloads(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	c := New(store, nil)

	var calls int32
	load := countingLoader(&calls, []plan{})
	_, err := ReadThrough(ctx, c, ScopeStageAssignments, Canonical, DefaultListTTL, load)
	require.NoError(t, err)

	now = now.Add(DefaultListTTL)
	_, err = ReadThrough(ctx, c, ScopeStageAssignments, Canonical, DefaultListTTL, load)
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls)
}

func TestMetrics_CountOutcomes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	c := New(NewMemoryStore(), m)

	var calls int32
	load := countingLoader(&calls, []plan{})
	_, _ = ReadThrough(ctx, c, ScopeWorkshops, Canonical, DefaultListTTL, load)
	_, _ = ReadThrough(ctx, c, ScopeWorkshops, Canonical, DefaultListTTL, load)
	_, _ = ReadThrough(ctx, c, ScopeWorkshops, "isActive=false", DefaultListTTL, load)
	c.Invalidate(ctx, ScopeWorkshops)

	assert.Equal(t, 1.0, promtest.ToFloat64(m.lookups.WithLabelValues(ScopeWorkshops, resultMiss)))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.lookups.WithLabelValues(ScopeWorkshops, resultHit)))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.lookups.WithLabelValues(ScopeWorkshops, resultBypass)))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.bumps.WithLabelValues(ScopeWorkshops, "ok")))
}

func TestSignature(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Canonical, Signature(nil))
	assert.Equal(t, Canonical, Signature(map[string]string{"status": ""}))
	assert.Equal(t, "customer=acme&status=DRAFT",
		Signature(map[string]string{"status": "DRAFT", "customer": "acme", "line": ""}))
}
