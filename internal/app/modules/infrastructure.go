package modules

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"github.com/VicenzaTech/psm-backend/internal/cache"
	"github.com/VicenzaTech/psm-backend/internal/config"
	"github.com/VicenzaTech/psm-backend/internal/governance/audit"
	"github.com/VicenzaTech/psm-backend/internal/infrastructure"
	"github.com/VicenzaTech/psm-backend/internal/jobs"
	"github.com/VicenzaTech/psm-backend/internal/pkg/logger"
	"github.com/VicenzaTech/psm-backend/internal/pkg/worker"
	"github.com/VicenzaTech/psm-backend/internal/repository"
	"github.com/VicenzaTech/psm-backend/internal/repository/memory"
	"github.com/VicenzaTech/psm-backend/internal/repository/postgres"
	"github.com/VicenzaTech/psm-backend/internal/service"
)

// Infrastructure holds shared cross-cutting dependencies for all modules.
// It is a provider, not a Module.
type Infrastructure struct {
	Config *config.Config
	// DB is nil with storage.driver=memory.
	DB         *infrastructure.DatabaseClients
	Pools      *worker.Pools
	Repos      repository.Repositories
	CacheStore cache.Store
	Cache      *cache.Cache
	// AuditLogger is nil with storage.driver=memory.
	AuditLogger *audit.Logger
	Registry    *prometheus.Registry
}

// NewInfrastructure initializes storage, cache and worker pools.
func NewInfrastructure(ctx context.Context, cfg *config.Config) (*Infrastructure, error) {
	infra := &Infrastructure{
		Config:   cfg,
		Registry: prometheus.NewRegistry(),
	}
	infra.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if cfg.Storage.Driver == config.DriverMemory {
		infra.Repos = memory.New()
		logger.Warn("Memory storage selected: state is lost on restart and background jobs are disabled")
	} else {
		db, err := infrastructure.NewDatabaseClients(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("init database: %w", err)
		}
		// Dev-mode: create application tables + River queue tables.
		if cfg.Database.AutoMigrate {
			if err := db.AutoMigrate(ctx); err != nil {
				db.Close()
				return nil, fmt.Errorf("auto-migrate: %w", err)
			}
		}
		infra.DB = db
		infra.Repos = postgres.New(db.Pool)
		infra.AuditLogger = audit.NewLogger(db.Pool)
	}

	if cfg.Cache.Driver == config.DriverPostgres && infra.DB != nil {
		infra.CacheStore = cache.NewPostgresStore(infra.DB.Pool)
	} else {
		infra.CacheStore = cache.NewMemoryStore()
	}
	infra.Cache = cache.New(infra.CacheStore, cache.NewMetrics(infra.Registry))

	pools, err := worker.NewPools(ctx, worker.PoolConfig{
		GeneralPoolSize: cfg.Worker.GeneralPoolSize,
		AuditPoolSize:   cfg.Worker.AuditPoolSize,
	})
	if err != nil {
		infra.Close()
		return nil, fmt.Errorf("init worker pools: %w", err)
	}
	infra.Pools = pools
	registerPoolGauges(infra.Registry, pools)

	logger.Info("Infrastructure initialized",
		zap.String("storage", cfg.Storage.Driver),
		zap.String("cache", cfg.Cache.Driver),
	)
	return infra, nil
}

// ServiceDeps returns the collaborators shared by services and workflows.
func (i *Infrastructure) ServiceDeps() service.Deps {
	return service.Deps{
		Repos:     i.Repos,
		Cache:     i.Cache,
		ListTTL:   i.Config.Cache.ListTTL,
		EntityTTL: i.Config.Cache.EntityTTL,
	}
}

// Pool returns the shared pgx pool, or nil in memory mode.
func (i *Infrastructure) Pool() *pgxpool.Pool {
	if i.DB == nil {
		return nil
	}
	return i.DB.Pool
}

// InitRiver initializes the River client on top of a prepared worker
// registry. It is a no-op in memory mode.
func (i *Infrastructure) InitRiver(workers *river.Workers, periodic []*river.PeriodicJob) error {
	if i == nil || i.Config == nil {
		return fmt.Errorf("infrastructure is not initialized")
	}
	if i.DB == nil {
		return nil
	}
	if err := i.DB.InitRiverClient(workers, periodic, i.Config.River, jobs.Queues()...); err != nil {
		return fmt.Errorf("init river: %w", err)
	}
	return nil
}

// Close releases infra resources in reverse dependency order.
func (i *Infrastructure) Close() {
	if i == nil {
		return
	}
	if i.Pools != nil {
		i.Pools.Shutdown()
	}
	if i.DB != nil {
		i.DB.Close()
	}
}

func registerPoolGauges(reg prometheus.Registerer, pools *worker.Pools) {
	for name, p := range map[string]*worker.Pool{
		worker.PoolGeneral: pools.General,
		worker.PoolAudit:   pools.Audit,
	} {
		p := p
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "psm",
			Subsystem:   "worker",
			Name:        "running_tasks",
			Help:        "Tasks currently running in the worker pool.",
			ConstLabels: prometheus.Labels{"pool": name},
		}, func() float64 { return float64(p.Running()) }))
	}
}
