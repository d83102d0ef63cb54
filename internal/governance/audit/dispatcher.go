package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/VicenzaTech/psm-backend/internal/domain"
	"github.com/VicenzaTech/psm-backend/internal/pkg/logger"
	"github.com/VicenzaTech/psm-backend/internal/pkg/worker"
)

// DefaultWriteTimeout bounds one sink write when none is configured.
const DefaultWriteTimeout = 5 * time.Second

// Sink receives change records.
type Sink interface {
	Write(ctx context.Context, rec domain.ChangeRecord) error
}

// Submitter runs detached background tasks. *worker.Pools implements it.
type Submitter interface {
	SubmitDetached(poolName string, task worker.Task) error
}

// Dispatcher hands change records to a Sink off the request path. Dispatch
// never blocks on the sink and never reports failure to the caller; lost
// records are logged.
type Dispatcher struct {
	pools   Submitter
	sink    Sink
	timeout time.Duration
}

// NewDispatcher creates a Dispatcher. A non-positive timeout uses
// DefaultWriteTimeout.
func NewDispatcher(pools Submitter, sink Sink, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	return &Dispatcher{pools: pools, sink: sink, timeout: timeout}
}

// Dispatch delivers records in order on the audit pool. A nil Dispatcher
// drops them.
func (d *Dispatcher) Dispatch(ctx context.Context, records ...domain.ChangeRecord) {
	if d == nil || d.sink == nil || len(records) == 0 {
		return
	}
	batch := append([]domain.ChangeRecord(nil), records...)

	err := d.pools.SubmitDetached(worker.PoolAudit, func(svcCtx context.Context) {
		for _, rec := range batch {
			d.write(svcCtx, rec)
		}
	})
	if err != nil {
		for _, rec := range batch {
			logger.Warn("audit record dropped",
				zap.String("action", rec.Action),
				zap.String("entity_type", string(rec.EntityType)),
				zap.Int64p("entity_id", rec.EntityID),
				zap.Error(err),
			)
		}
	}
}

func (d *Dispatcher) write(ctx context.Context, rec domain.ChangeRecord) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.sink.Write(ctx, rec); err != nil {
		logger.Warn("audit sink write failed",
			zap.String("action", rec.Action),
			zap.String("entity_type", string(rec.EntityType)),
			zap.Int64p("entity_id", rec.EntityID),
			zap.Error(err),
		)
	}
}

// LogSink writes records to the process log. It is the sink for deployments
// without a database.
type LogSink struct{}

// Write implements Sink.
func (LogSink) Write(_ context.Context, rec domain.ChangeRecord) error {
	logger.Info("activity",
		zap.String("action", rec.Action),
		zap.String("entity_type", string(rec.EntityType)),
		zap.Int64p("entity_id", rec.EntityID),
		zap.String("entity_name", rec.EntityName),
		zap.String("actor", rec.Actor),
		zap.String("source", string(rec.Source)),
		zap.String("severity", string(rec.Severity)),
		zap.String("description", rec.Description),
		zap.Any("metadata", rec.Metadata),
	)
	return nil
}

// MemorySink keeps records in memory.
type MemorySink struct {
	mu      sync.Mutex
	records []domain.ChangeRecord
}

// Write implements Sink.
func (s *MemorySink) Write(_ context.Context, rec domain.ChangeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// Records returns a copy of everything written so far.
func (s *MemorySink) Records() []domain.ChangeRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ChangeRecord(nil), s.records...)
}
