package worker

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/VicenzaTech/psm-backend/internal/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Replace(zap.NewNop())
	os.Exit(m.Run())
}

func TestNewPools(t *testing.T) {
	pools, err := NewPools(context.Background(), DefaultPoolConfig())
	require.NoError(t, err)
	defer pools.Shutdown()

	assert.NotNil(t, pools.General)
	assert.NotNil(t, pools.Audit)
}

func TestNewPools_NonPositiveSizesUseDefaults(t *testing.T) {
	pools, err := NewPools(context.Background(), PoolConfig{})
	require.NoError(t, err)
	defer pools.Shutdown()

	def := DefaultPoolConfig()
	assert.Equal(t, def.GeneralPoolSize, pools.General.pool.Cap())
	assert.Equal(t, def.AuditPoolSize, pools.Audit.pool.Cap())
}

func TestPool_Submit(t *testing.T) {
	ctx := context.Background()
	pools, err := NewPools(ctx, PoolConfig{GeneralPoolSize: 10, AuditPoolSize: 5})
	require.NoError(t, err)
	defer pools.Shutdown()

	var executed atomic.Bool
	var wg sync.WaitGroup
	wg.Add(1)
	err = pools.General.Submit(ctx, func(ctx context.Context) {
		executed.Store(true)
		wg.Done()
	})
	require.NoError(t, err)

	wg.Wait()
	assert.True(t, executed.Load())
}

func TestPool_Submit_CancelledContext(t *testing.T) {
	ctx := context.Background()
	pools, err := NewPools(ctx, DefaultPoolConfig())
	require.NoError(t, err)
	defer pools.Shutdown()

	cancelledCtx, cancel := context.WithCancel(ctx)
	cancel()

	err = pools.General.Submit(cancelledCtx, func(ctx context.Context) {
		t.Error("task must not run with a cancelled context")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPools_SubmitDetached(t *testing.T) {
	tests := []struct {
		name     string
		poolName string
	}{
		{"general pool", PoolGeneral},
		{"audit pool", PoolAudit},
		{"default fallback", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pools, err := NewPools(context.Background(), DefaultPoolConfig())
			require.NoError(t, err)

			var executed atomic.Bool
			var wg sync.WaitGroup
			wg.Add(1)
			err = pools.SubmitDetached(tt.poolName, func(ctx context.Context) {
				executed.Store(true)
				wg.Done()
			})
			require.NoError(t, err)

			wg.Wait()
			pools.Shutdown()
			assert.True(t, executed.Load())
		})
	}
}

func TestPools_SubmitDetached_SurvivesRequestCancellation(t *testing.T) {
	pools, err := NewPools(context.Background(), DefaultPoolConfig())
	require.NoError(t, err)
	defer pools.Shutdown()

	reqCtx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	err = pools.SubmitDetached(PoolAudit, func(ctx context.Context) {
		<-reqCtx.Done()
		done <- ctx.Err()
	})
	require.NoError(t, err)
	cancel()

	select {
	case got := <-done:
		assert.NoError(t, got, "detached task runs with the service context")
	case <-time.After(5 * time.Second):
		t.Fatal("detached task did not run")
	}
}

func TestPools_SubmitAfterShutdown(t *testing.T) {
	pools, err := NewPools(context.Background(), DefaultPoolConfig())
	require.NoError(t, err)
	pools.Shutdown()

	err = pools.SubmitDetached(PoolAudit, func(context.Context) {})
	assert.ErrorIs(t, err, ErrPoolClosed)
	err = pools.General.Submit(context.Background(), func(context.Context) {})
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPools_AuditPoolRejectsWhenSaturated(t *testing.T) {
	pools, err := NewPools(context.Background(), PoolConfig{GeneralPoolSize: 1, AuditPoolSize: 1})
	require.NoError(t, err)
	defer pools.Shutdown()

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, pools.SubmitDetached(PoolAudit, func(context.Context) {
		close(started)
		<-release
	}))
	<-started

	err = pools.SubmitDetached(PoolAudit, func(context.Context) {})
	assert.ErrorIs(t, err, ants.ErrPoolOverload)
	close(release)
}

func TestPools_Metrics(t *testing.T) {
	pools, err := NewPools(context.Background(), PoolConfig{GeneralPoolSize: 10, AuditPoolSize: 5})
	require.NoError(t, err)
	defer pools.Shutdown()

	metrics := pools.Metrics()
	general, ok := metrics[PoolGeneral].(map[string]int)
	require.True(t, ok)
	assert.Equal(t, 10, general["cap"])

	audit, ok := metrics[PoolAudit].(map[string]int)
	require.True(t, ok)
	assert.Equal(t, 5, audit["cap"])
}

func TestPool_Submit_ContextCancelledWhileQueued(t *testing.T) {
	ctx := context.Background()
	pools, err := NewPools(ctx, PoolConfig{GeneralPoolSize: 1, AuditPoolSize: 1})
	require.NoError(t, err)
	defer pools.Shutdown()

	blockCh := make(chan struct{})
	var started sync.WaitGroup
	started.Add(1)
	require.NoError(t, pools.General.Submit(ctx, func(ctx context.Context) {
		started.Done()
		<-blockCh
	}))
	started.Wait()

	cancelCtx, cancel := context.WithCancel(ctx)
	var submitted sync.WaitGroup
	submitted.Add(1)
	go func() {
		defer submitted.Done()
		_ = pools.General.Submit(cancelCtx, func(ctx context.Context) {})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	close(blockCh)
	submitted.Wait()
}
