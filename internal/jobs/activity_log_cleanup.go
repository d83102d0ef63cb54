package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"github.com/VicenzaTech/psm-backend/internal/pkg/logger"
)

const (
	// DefaultActivityLogRetention is how long activity rows are kept when no
	// retention is configured.
	DefaultActivityLogRetention = 180 * 24 * time.Hour
)

// ActivityLogDeleter removes activity rows older than a cutoff.
// *audit.Logger implements it.
type ActivityLogDeleter interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ActivityLogCleanupArgs is a periodic maintenance job that removes expired
// activity log rows.
type ActivityLogCleanupArgs struct{}

// Kind returns the job kind identifier for periodic activity log cleanup.
func (ActivityLogCleanupArgs) Kind() string { return "activity_log_cleanup" }

// InsertOpts ensures at most one cleanup job is enqueued within the same day.
func (ActivityLogCleanupArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       river.QueueDefault,
		MaxAttempts: 1,
		UniqueOpts: river.UniqueOpts{
			ByPeriod: 24 * time.Hour,
			ByQueue:  true,
			ByArgs:   true,
		},
	}
}

// ActivityLogCleanupWorker deletes activity rows older than the configured
// retention duration.
type ActivityLogCleanupWorker struct {
	river.WorkerDefaults[ActivityLogCleanupArgs]
	logs      ActivityLogDeleter
	retention time.Duration
	now       func() time.Time
}

// NewActivityLogCleanupWorker creates a cleanup worker. Non-positive
// retention falls back to DefaultActivityLogRetention.
func NewActivityLogCleanupWorker(logs ActivityLogDeleter, retention time.Duration) *ActivityLogCleanupWorker {
	if retention <= 0 {
		retention = DefaultActivityLogRetention
	}
	return &ActivityLogCleanupWorker{
		logs:      logs,
		retention: retention,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Work removes expired activity rows.
func (w *ActivityLogCleanupWorker) Work(ctx context.Context, _ *river.Job[ActivityLogCleanupArgs]) error {
	if w == nil || w.logs == nil {
		return fmt.Errorf("activity log cleanup worker is not initialized")
	}

	cutoff := w.now().Add(-w.retention)
	deleted, err := w.logs.DeleteBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("delete activity logs before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	logger.Info("activity log cleanup completed",
		zap.Int64("deleted_rows", deleted),
		zap.String("cutoff", cutoff.Format(time.RFC3339)),
		zap.Duration("retention", w.retention),
	)
	return nil
}
