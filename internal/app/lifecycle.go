package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/VicenzaTech/psm-backend/internal/jobs"
	"github.com/VicenzaTech/psm-backend/internal/pkg/logger"
)

// Start starts all background services (River workers, in-process cache sweep).
func (a *Application) Start(ctx context.Context) error {
	if a.DB != nil && a.DB.RiverClient != nil {
		if err := a.DB.RiverClient.Start(ctx); err != nil {
			return fmt.Errorf("start river client: %w", err)
		}
		logger.Info("River client started, jobs will now be consumed")
	}
	if a.sweeper != nil {
		interval := jobs.DefaultCacheSweepInterval
		if a.Config != nil && a.Config.Cache.SweepInterval > 0 {
			interval = a.Config.Cache.SweepInterval
		}
		sweepCtx, cancel := context.WithCancel(context.Background())
		a.stop = cancel
		go a.sweepLoop(sweepCtx, interval) //nolint:naked-goroutine // lifecycle-owned loop, stopped in Shutdown
	}
	return nil
}

func (a *Application) sweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := a.sweeper.Sweep(ctx)
			if err != nil {
				logger.Warn("cache sweep failed", zap.Error(err))
				continue
			}
			logger.Debug("cache sweep completed", zap.Int64("removed", removed))
		}
	}
}

// Shutdown gracefully shuts down all application components.
func (a *Application) Shutdown() {
	shutdownCtx := context.Background()

	if a.stop != nil {
		a.stop()
	}

	if a.DB != nil && a.DB.RiverClient != nil {
		if err := a.DB.RiverClient.Stop(shutdownCtx); err != nil {
			logger.Error("failed to stop river client", zap.Error(err))
		}
		logger.Info("River client stopped")
	}

	for _, mod := range a.Modules {
		if mod == nil {
			continue
		}
		if err := mod.Shutdown(shutdownCtx); err != nil {
			logger.Warn("module shutdown returned error",
				zap.String("module", mod.Name()),
				zap.Error(err),
			)
		}
	}

	if a.Pools != nil {
		a.Pools.Shutdown()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
