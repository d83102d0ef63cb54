// Package jobs defines River job types for durable background work: activity
// log delivery and periodic maintenance.
package jobs

import (
	"fmt"
	"time"

	"github.com/riverqueue/river"

	"github.com/VicenzaTech/psm-backend/internal/cache"
	"github.com/VicenzaTech/psm-backend/internal/governance/audit"
)

// WorkerDeps are the collaborators of the registered workers.
type WorkerDeps struct {
	// AuditSink performs the final write of queued records.
	AuditSink audit.Sink
	// ActivityLogs is pruned by the retention job.
	ActivityLogs      ActivityLogDeleter
	ActivityRetention time.Duration
	// CacheStore is swept periodically. Nil disables the sweep.
	CacheStore    cache.Sweeper
	SweepInterval time.Duration
}

// Queues lists the queues besides river.QueueDefault that the workers use.
func Queues() []string {
	return []string{QueueAudit}
}

// RegisterWorkers adds every worker to workers.
func RegisterWorkers(workers *river.Workers, d WorkerDeps) error {
	if err := river.AddWorkerSafely(workers, NewAuditLogWorker(d.AuditSink)); err != nil {
		return fmt.Errorf("register audit log worker: %w", err)
	}
	if err := river.AddWorkerSafely(workers, NewActivityLogCleanupWorker(d.ActivityLogs, d.ActivityRetention)); err != nil {
		return fmt.Errorf("register activity log cleanup worker: %w", err)
	}
	if d.CacheStore != nil {
		if err := river.AddWorkerSafely(workers, NewCacheSweepWorker(d.CacheStore)); err != nil {
			return fmt.Errorf("register cache sweep worker: %w", err)
		}
	}
	return nil
}

// PeriodicJobs returns the maintenance schedule matching d.
func PeriodicJobs(d WorkerDeps) []*river.PeriodicJob {
	periodic := []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(24*time.Hour),
			func() (river.JobArgs, *river.InsertOpts) {
				return ActivityLogCleanupArgs{}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
	}
	if d.CacheStore != nil {
		interval := d.SweepInterval
		if interval <= 0 {
			interval = DefaultCacheSweepInterval
		}
		periodic = append(periodic, river.NewPeriodicJob(
			river.PeriodicInterval(interval),
			func() (river.JobArgs, *river.InsertOpts) {
				return CacheSweepArgs{}, nil
			},
			nil,
		))
	}
	return periodic
}
