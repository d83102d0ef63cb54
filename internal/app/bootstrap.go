// Package app is the composition root. Bootstrap stays orchestration-only.
package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/riverqueue/river"

	"github.com/VicenzaTech/psm-backend/internal/api/handlers"
	"github.com/VicenzaTech/psm-backend/internal/app/modules"
	"github.com/VicenzaTech/psm-backend/internal/cache"
	"github.com/VicenzaTech/psm-backend/internal/config"
	"github.com/VicenzaTech/psm-backend/internal/infrastructure"
	"github.com/VicenzaTech/psm-backend/internal/pkg/worker"
)

// Application holds composed application dependencies.
type Application struct {
	Config  *config.Config
	Router  *gin.Engine
	DB      *infrastructure.DatabaseClients
	Pools   *worker.Pools
	Modules []modules.Module

	// sweeper is swept in-process when no River client runs the sweep job.
	sweeper cache.Sweeper
	stop    context.CancelFunc
}

// Bootstrap initializes all dependencies using module-oriented manual DI.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Application, error) {
	infra, err := modules.NewInfrastructure(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init infrastructure: %w", err)
	}

	catalog := modules.NewCatalogModule(infra)
	devices, err := modules.NewDeviceModule(infra, catalog)
	if err != nil {
		infra.Close()
		return nil, err
	}
	governance := modules.NewGovernanceModule(infra)
	allModules := []modules.Module{
		catalog,
		modules.NewProductionModule(infra, catalog),
		devices,
		governance,
	}

	workers := river.NewWorkers()
	for _, mod := range allModules {
		if err := mod.RegisterWorkers(workers); err != nil {
			infra.Close()
			return nil, fmt.Errorf("register %s workers: %w", mod.Name(), err)
		}
	}
	if err := infra.InitRiver(workers, governance.PeriodicJobs()); err != nil {
		infra.Close()
		return nil, fmt.Errorf("init river workers: %w", err)
	}

	server := handlers.NewServer(modules.NewServerDeps(infra, allModules))

	app := &Application{
		Config:  cfg,
		Router:  newRouter(cfg, server, modules.JWTConfig(cfg), infra.Registry),
		DB:      infra.DB,
		Pools:   infra.Pools,
		Modules: allModules,
	}
	if infra.DB == nil {
		if sweeper, ok := infra.CacheStore.(cache.Sweeper); ok {
			app.sweeper = sweeper
		}
	}
	return app, nil
}
