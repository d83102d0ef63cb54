package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"go.uber.org/zap"

	"github.com/VicenzaTech/psm-backend/internal/cache"
	"github.com/VicenzaTech/psm-backend/internal/pkg/logger"
)

// DefaultCacheSweepInterval is how often expired cache rows are deleted when
// no interval is configured.
const DefaultCacheSweepInterval = 10 * time.Minute

// CacheSweepArgs is a periodic job that deletes expired cache entries.
type CacheSweepArgs struct{}

// Kind returns the job kind identifier for cache sweeps.
func (CacheSweepArgs) Kind() string { return "cache_sweep" }

// InsertOpts keeps a single sweep queued at a time.
func (CacheSweepArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       river.QueueDefault,
		MaxAttempts: 1,
		UniqueOpts: river.UniqueOpts{
			ByQueue: true,
			ByArgs:  true,
			ByState: []rivertype.JobState{
				rivertype.JobStateAvailable,
				rivertype.JobStatePending,
				rivertype.JobStateRunning,
				rivertype.JobStateScheduled,
			},
		},
	}
}

// CacheSweepWorker deletes expired entries from stores that keep them until
// an explicit cleanup.
type CacheSweepWorker struct {
	river.WorkerDefaults[CacheSweepArgs]
	store cache.Sweeper
}

// NewCacheSweepWorker creates a new CacheSweepWorker.
func NewCacheSweepWorker(store cache.Sweeper) *CacheSweepWorker {
	return &CacheSweepWorker{store: store}
}

// Work sweeps the store.
func (w *CacheSweepWorker) Work(ctx context.Context, _ *river.Job[CacheSweepArgs]) error {
	if w == nil || w.store == nil {
		return fmt.Errorf("cache sweep worker is not initialized")
	}
	deleted, err := w.store.Sweep(ctx)
	if err != nil {
		return err
	}
	if deleted > 0 {
		logger.Debug("cache sweep completed", zap.Int64("deleted_rows", deleted))
	}
	return nil
}
