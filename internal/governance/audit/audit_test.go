package audit

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/VicenzaTech/psm-backend/internal/domain"
	"github.com/VicenzaTech/psm-backend/internal/pkg/logger"
	"github.com/VicenzaTech/psm-backend/internal/pkg/worker"
	"github.com/VicenzaTech/psm-backend/internal/testutil"
)

func TestMain(m *testing.M) {
	logger.Replace(zap.NewNop())
	os.Exit(m.Run())
}

// syncSubmitter runs tasks inline, or fails every submission when err is set.
type syncSubmitter struct {
	err   error
	pools []string
}

func (s *syncSubmitter) SubmitDetached(pool string, task worker.Task) error {
	if s.err != nil {
		return s.err
	}
	s.pools = append(s.pools, pool)
	task(context.Background())
	return nil
}

type failingSink struct{ calls int }

func (f *failingSink) Write(context.Context, domain.ChangeRecord) error {
	f.calls++
	return errors.New("sink down")
}

// deadlineSink records whether each write carried a deadline.
type deadlineSink struct{ hadDeadline []bool }

func (d *deadlineSink) Write(ctx context.Context, _ domain.ChangeRecord) error {
	_, ok := ctx.Deadline()
	d.hadDeadline = append(d.hadDeadline, ok)
	return nil
}

func change(action string, id int64) domain.ChangeRecord {
	return domain.NewChange(action, domain.EntityProductionPlan, id, "test").By("tester")
}

func TestDispatcher_DeliversInOrderOnAuditPool(t *testing.T) {
	t.Parallel()
	sink := &MemorySink{}
	sub := &syncSubmitter{}
	d := NewDispatcher(sub, sink, 0)

	d.Dispatch(context.Background(), change("A", 1), change("B", 2))

	got := sink.Records()
	require.Len(t, got, 2)
	assert.Equal(t, "A", got[0].Action)
	assert.Equal(t, "B", got[1].Action)
	assert.Equal(t, []string{worker.PoolAudit}, sub.pools)
}

func TestDispatcher_FailuresNeverReachCaller(t *testing.T) {
	t.Parallel()

	sink := &failingSink{}
	NewDispatcher(&syncSubmitter{}, sink, time.Second).Dispatch(context.Background(), change("A", 1), change("B", 2))
	assert.Equal(t, 2, sink.calls, "one failed write does not stop the batch")

	mem := &MemorySink{}
	NewDispatcher(&syncSubmitter{err: errors.New("overloaded")}, mem, 0).Dispatch(context.Background(), change("A", 1))
	assert.Empty(t, mem.Records())
}

func TestDispatcher_NilAndEmpty(t *testing.T) {
	t.Parallel()
	var d *Dispatcher
	d.Dispatch(context.Background(), change("A", 1))

	sub := &syncSubmitter{}
	NewDispatcher(sub, &MemorySink{}, 0).Dispatch(context.Background())
	assert.Empty(t, sub.pools)
}

func TestDispatcher_WritesAreBounded(t *testing.T) {
	t.Parallel()
	sink := &deadlineSink{}
	d := NewDispatcher(&syncSubmitter{}, sink, 0)
	assert.Equal(t, DefaultWriteTimeout, d.timeout)

	d.Dispatch(context.Background(), change("A", 1))
	assert.Equal(t, []bool{true}, sink.hadDeadline)
}

func TestDispatcher_WithWorkerPools(t *testing.T) {
	pools, err := worker.NewPools(context.Background(), worker.DefaultPoolConfig())
	require.NoError(t, err)
	defer pools.Shutdown()

	var wg sync.WaitGroup
	wg.Add(1)
	sink := &notifySink{done: wg.Done}
	d := NewDispatcher(pools, sink, time.Second)

	reqCtx, cancel := context.WithCancel(context.Background())
	d.Dispatch(reqCtx, change("CREATE_PRODUCTION_PLAN", 7))
	cancel()
	wg.Wait()

	require.Len(t, sink.mem.Records(), 1)
	assert.Equal(t, "CREATE_PRODUCTION_PLAN", sink.mem.Records()[0].Action)
}

type notifySink struct {
	mem  MemorySink
	done func()
}

func (n *notifySink) Write(ctx context.Context, rec domain.ChangeRecord) error {
	defer n.done()
	return n.mem.Write(ctx, rec)
}

func TestLogSink_NeverFails(t *testing.T) {
	t.Parallel()
	assert.NoError(t, LogSink{}.Write(context.Background(), change("A", 1)))
}

func TestGenerateAuditID(t *testing.T) {
	t.Parallel()
	a, b := generateAuditID(), generateAuditID()
	assert.Regexp(t, `^audit-[0-9a-f-]{36}$`, a)
	assert.NotEqual(t, a, b)
}

func TestLogger_WriteListDelete(t *testing.T) {
	pool := testutil.OpenSchemaPool(t, "audit_logger")
	l := NewLogger(pool)
	ctx := context.Background()

	rec := change(domain.ActionApproveProductionPlan, 42).
		Named("P-001").
		WithMeta("before", "DRAFT").
		WithMeta("after", "APPROVED")
	require.NoError(t, l.Write(ctx, rec))
	require.NoError(t, l.Write(ctx, change(domain.ActionCreateProductionPlan, 43)))

	id := int64(42)
	page, err := l.List(ctx, Query{EntityType: domain.EntityProductionPlan, EntityID: &id})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, int64(1), page.Total)
	got := page.Items[0].Record
	assert.Equal(t, domain.ActionApproveProductionPlan, got.Action)
	assert.Equal(t, "P-001", got.EntityName)
	assert.Equal(t, "tester", got.Actor)
	assert.Equal(t, domain.SeverityInfo, got.Severity)
	assert.Equal(t, domain.SourceAPI, got.Source)
	assert.Equal(t, "APPROVED", got.Metadata["after"])
	require.NotNil(t, got.EntityID)
	assert.Equal(t, int64(42), *got.EntityID)

	deleted, err := l.DeleteBefore(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, deleted)

	deleted, err = l.DeleteBefore(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
}

func TestLogger_ListFiltersAndPages(t *testing.T) {
	pool := testutil.OpenSchemaPool(t, "audit_logger_list")
	l := NewLogger(pool)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for i := int64(1); i <= 5; i++ {
		rec := change(domain.ActionCreateProductionPlan, i)
		rec.OccurredAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, l.Write(ctx, rec))
	}
	other := change(domain.ActionApproveProductionPlan, 1).By("bob")
	other.OccurredAt = base
	require.NoError(t, l.Write(ctx, other))

	all, err := l.List(ctx, Query{})
	require.NoError(t, err)
	assert.Equal(t, 1, all.Page)
	assert.Equal(t, DefaultPageLimit, all.Limit)
	assert.Equal(t, int64(6), all.Total)
	assert.Equal(t, 1, all.TotalPages)
	require.Len(t, all.Items, 6)
	require.NotNil(t, all.Items[0].Record.EntityID)
	assert.Equal(t, int64(5), *all.Items[0].Record.EntityID, "newest first")

	second, err := l.List(ctx, Query{ActionType: domain.ActionCreateProductionPlan, Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(5), second.Total)
	assert.Equal(t, 3, second.TotalPages)
	require.Len(t, second.Items, 2)
	assert.Equal(t, int64(3), *second.Items[0].Record.EntityID)
	assert.Equal(t, int64(2), *second.Items[1].Record.EntityID)

	byActor, err := l.List(ctx, Query{Actor: "bob"})
	require.NoError(t, err)
	require.Len(t, byActor.Items, 1)
	assert.Equal(t, domain.ActionApproveProductionPlan, byActor.Items[0].Record.Action)

	past, err := l.List(ctx, Query{Page: 9, Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, past.Items)
	assert.Equal(t, int64(6), past.Total)
	assert.Equal(t, 2, past.TotalPages)
}
