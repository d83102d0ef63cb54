package jobs

import (
	"context"
	"fmt"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"go.uber.org/zap"

	"github.com/VicenzaTech/psm-backend/internal/domain"
	"github.com/VicenzaTech/psm-backend/internal/governance/audit"
	"github.com/VicenzaTech/psm-backend/internal/pkg/logger"
)

// QueueAudit is the River queue for activity log delivery.
const QueueAudit = "audit"

// AuditLogArgs carries one change record to the activity log.
type AuditLogArgs struct {
	Record domain.ChangeRecord `json:"record"`
}

// Kind returns the job kind identifier for activity log writes.
func (AuditLogArgs) Kind() string { return "audit_log" }

// InsertOpts returns default insert options for activity log writes.
func (AuditLogArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       QueueAudit,
		MaxAttempts: 5,
	}
}

// AuditLogWorker writes queued change records through a sink, normally
// *audit.Logger. A failed write is retried by River.
type AuditLogWorker struct {
	river.WorkerDefaults[AuditLogArgs]
	sink audit.Sink
}

// NewAuditLogWorker creates a new AuditLogWorker.
func NewAuditLogWorker(sink audit.Sink) *AuditLogWorker {
	return &AuditLogWorker{sink: sink}
}

// Work writes the record.
func (w *AuditLogWorker) Work(ctx context.Context, job *river.Job[AuditLogArgs]) error {
	if w == nil || w.sink == nil {
		return fmt.Errorf("audit log worker is not initialized")
	}
	if job.Args.Record.Action == "" {
		logger.Warn("discarding audit job without action")
		return nil
	}
	return w.sink.Write(ctx, job.Args.Record)
}

// JobInserter enqueues River jobs. *river.Client[pgx.Tx] implements it.
type JobInserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// RiverSink implements audit.Sink by enqueueing an AuditLogArgs job, so the
// record survives a restart between the request and the database write.
type RiverSink struct {
	client JobInserter
}

// NewRiverSink creates a new RiverSink.
func NewRiverSink(client JobInserter) *RiverSink {
	return &RiverSink{client: client}
}

// Write implements audit.Sink.
func (s *RiverSink) Write(ctx context.Context, rec domain.ChangeRecord) error {
	if _, err := s.client.Insert(ctx, AuditLogArgs{Record: rec}, nil); err != nil {
		logger.Warn("failed to enqueue audit job",
			zap.String("action", rec.Action),
			zap.Int64p("entity_id", rec.EntityID),
			zap.Error(err),
		)
		return fmt.Errorf("enqueue audit job: %w", err)
	}
	return nil
}
