package modules

import (
	"context"

	"github.com/riverqueue/river"

	"github.com/VicenzaTech/psm-backend/internal/api/handlers"
	"github.com/VicenzaTech/psm-backend/internal/cache"
	"github.com/VicenzaTech/psm-backend/internal/governance/audit"
	"github.com/VicenzaTech/psm-backend/internal/jobs"
)

// GovernanceModule owns the activity log pipeline: the request-side
// dispatcher, the River workers that persist records and the maintenance
// jobs that prune logs and expired cache entries.
type GovernanceModule struct {
	infra *Infrastructure
}

// NewGovernanceModule creates the governance module.
func NewGovernanceModule(infra *Infrastructure) *GovernanceModule {
	return &GovernanceModule{infra: infra}
}

func (m *GovernanceModule) Name() string { return "governance" }

func (m *GovernanceModule) workerDeps() jobs.WorkerDeps {
	cfg := m.infra.Config
	d := jobs.WorkerDeps{
		AuditSink:         m.infra.AuditLogger,
		ActivityLogs:      m.infra.AuditLogger,
		ActivityRetention: cfg.Audit.Retention,
		SweepInterval:     cfg.Cache.SweepInterval,
	}
	if sweeper, ok := m.infra.CacheStore.(cache.Sweeper); ok {
		d.CacheStore = sweeper
	}
	return d
}

// RegisterWorkers registers the audit and maintenance workers. Memory mode
// runs no River client, so nothing is registered.
func (m *GovernanceModule) RegisterWorkers(workers *river.Workers) error {
	if m.infra.DB == nil {
		return nil
	}
	return jobs.RegisterWorkers(workers, m.workerDeps())
}

// PeriodicJobs returns the maintenance schedule, or nil in memory mode.
func (m *GovernanceModule) PeriodicJobs() []*river.PeriodicJob {
	if m.infra.DB == nil {
		return nil
	}
	return jobs.PeriodicJobs(m.workerDeps())
}

// Sink returns where dispatched records go: the durable River queue when a
// client is running, the process log otherwise.
func (m *GovernanceModule) Sink() audit.Sink {
	if m.infra.DB != nil && m.infra.DB.RiverClient != nil {
		return jobs.NewRiverSink(m.infra.DB.RiverClient)
	}
	return audit.LogSink{}
}

func (m *GovernanceModule) ContributeServerDeps(deps *handlers.ServerDeps) {
	deps.Audit = audit.NewDispatcher(m.infra.Pools, m.Sink(), m.infra.Config.Audit.EnqueueTimeout)
	if m.infra.AuditLogger != nil {
		deps.Activity = m.infra.AuditLogger
	}
}

func (m *GovernanceModule) Shutdown(context.Context) error { return nil }
