package jobs

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/VicenzaTech/psm-backend/internal/cache"
	"github.com/VicenzaTech/psm-backend/internal/domain"
	"github.com/VicenzaTech/psm-backend/internal/governance/audit"
	"github.com/VicenzaTech/psm-backend/internal/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Replace(zap.NewNop())
	os.Exit(m.Run())
}

type fakeDeleter struct {
	cutoff  time.Time
	deleted int64
	err     error
}

func (f *fakeDeleter) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return f.deleted, f.err
}

func TestActivityLogCleanupArgs(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "activity_log_cleanup", ActivityLogCleanupArgs{}.Kind())
	opts := ActivityLogCleanupArgs{}.InsertOpts()
	assert.Equal(t, river.QueueDefault, opts.Queue)
	assert.Equal(t, 1, opts.MaxAttempts)
	assert.Equal(t, 24*time.Hour, opts.UniqueOpts.ByPeriod)
	assert.True(t, opts.UniqueOpts.ByQueue)
	assert.True(t, opts.UniqueOpts.ByArgs)
}

func TestNewActivityLogCleanupWorkerRetention(t *testing.T) {
	t.Parallel()

	t.Run("defaults when non-positive", func(t *testing.T) {
		w := NewActivityLogCleanupWorker(nil, 0)
		assert.Equal(t, DefaultActivityLogRetention, w.retention)
	})

	t.Run("uses explicit retention when provided", func(t *testing.T) {
		want := 7 * 24 * time.Hour
		w := NewActivityLogCleanupWorker(nil, want)
		assert.Equal(t, want, w.retention)
	})
}

func TestActivityLogCleanupWorker_Work(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	del := &fakeDeleter{deleted: 3}
	w := NewActivityLogCleanupWorker(del, 30*24*time.Hour)
	w.now = func() time.Time { return now }
	require.NoError(t, w.Work(context.Background(), nil))
	assert.Equal(t, now.Add(-30*24*time.Hour), del.cutoff)

	del.err = errors.New("db down")
	err := w.Work(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, del.err)
}

func TestActivityLogCleanupWorker_Uninitialized(t *testing.T) {
	t.Parallel()

	var nilWorker *ActivityLogCleanupWorker
	assert.ErrorContains(t, nilWorker.Work(context.Background(), nil), "not initialized")
	assert.ErrorContains(t, (&ActivityLogCleanupWorker{}).Work(context.Background(), nil), "not initialized")
}

type fakeInserter struct {
	args []river.JobArgs
	err  error
}

func (f *fakeInserter) Insert(_ context.Context, args river.JobArgs, _ *river.InsertOpts) (*rivertype.JobInsertResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.args = append(f.args, args)
	return &rivertype.JobInsertResult{}, nil
}

func TestRiverSink_EnqueuesAuditJob(t *testing.T) {
	t.Parallel()
	ins := &fakeInserter{}
	rec := domain.NewChange(domain.ActionCreateWorkshop, domain.EntityWorkshop, 1, "Workshop WS-1 created")

	require.NoError(t, NewRiverSink(ins).Write(context.Background(), rec))
	require.Len(t, ins.args, 1)
	args, ok := ins.args[0].(AuditLogArgs)
	require.True(t, ok)
	assert.Equal(t, rec, args.Record)
	assert.Equal(t, QueueAudit, args.InsertOpts().Queue)

	ins.err = errors.New("queue down")
	assert.ErrorIs(t, NewRiverSink(ins).Write(context.Background(), rec), ins.err)
}

func TestAuditLogWorker_Work(t *testing.T) {
	t.Parallel()
	sink := &audit.MemorySink{}
	w := NewAuditLogWorker(sink)
	rec := domain.NewChange(domain.ActionApproveProductionPlan, domain.EntityProductionPlan, 9, "approved")

	require.NoError(t, w.Work(context.Background(), &river.Job[AuditLogArgs]{Args: AuditLogArgs{Record: rec}}))
	require.NoError(t, w.Work(context.Background(), &river.Job[AuditLogArgs]{Args: AuditLogArgs{}}))
	assert.Equal(t, []domain.ChangeRecord{rec}, sink.Records())

	var nilWorker *AuditLogWorker
	assert.ErrorContains(t, nilWorker.Work(context.Background(), nil), "not initialized")
}

type fakeSweeper struct {
	calls int
	err   error
}

func (f *fakeSweeper) Sweep(context.Context) (int64, error) {
	f.calls++
	return 2, f.err
}

func TestCacheSweepWorker_Work(t *testing.T) {
	t.Parallel()
	sw := &fakeSweeper{}
	w := NewCacheSweepWorker(sw)
	require.NoError(t, w.Work(context.Background(), nil))
	assert.Equal(t, 1, sw.calls)

	sw.err = errors.New("locked")
	assert.ErrorIs(t, w.Work(context.Background(), nil), sw.err)

	assert.ErrorContains(t, (&CacheSweepWorker{}).Work(context.Background(), nil), "not initialized")
}

func TestRegisterWorkersAndPeriodicJobs(t *testing.T) {
	t.Parallel()

	withSweep := WorkerDeps{
		AuditSink:    &audit.MemorySink{},
		ActivityLogs: &fakeDeleter{},
		CacheStore:   cache.NewMemoryStore(),
	}
	require.NoError(t, RegisterWorkers(river.NewWorkers(), withSweep))
	assert.Len(t, PeriodicJobs(withSweep), 2)

	noSweep := withSweep
	noSweep.CacheStore = nil
	require.NoError(t, RegisterWorkers(river.NewWorkers(), noSweep))
	assert.Len(t, PeriodicJobs(noSweep), 1)

	assert.Equal(t, []string{QueueAudit}, Queues())
	assert.Equal(t, "cache_sweep", CacheSweepArgs{}.Kind())
	assert.Equal(t, "audit_log", AuditLogArgs{}.Kind())
}
