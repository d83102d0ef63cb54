package modules

import (
	"context"

	"github.com/riverqueue/river"

	"github.com/VicenzaTech/psm-backend/internal/api/handlers"
	"github.com/VicenzaTech/psm-backend/internal/service"
	"github.com/VicenzaTech/psm-backend/internal/workflow"
)

// CatalogModule composes the workshop, production line, brick type and daily
// production services.
type CatalogModule struct {
	Workshops        *service.WorkshopService
	ProductionLines  *service.ProductionLineService
	BrickTypes       *service.BrickTypeService
	DailyProductions *service.DailyProductionService
}

// NewCatalogModule creates the catalog services.
func NewCatalogModule(infra *Infrastructure) *CatalogModule {
	deps := infra.ServiceDeps()
	workshops := service.NewWorkshopService(deps)
	return &CatalogModule{
		Workshops:        workshops,
		ProductionLines:  service.NewProductionLineService(deps, workshops),
		BrickTypes:       service.NewBrickTypeService(deps),
		DailyProductions: service.NewDailyProductionService(deps),
	}
}

func (m *CatalogModule) Name() string { return "catalog" }

func (m *CatalogModule) ContributeServerDeps(deps *handlers.ServerDeps) {
	deps.Workshops = m.Workshops
	deps.ProductionLines = m.ProductionLines
	deps.BrickTypes = m.BrickTypes
	deps.DailyProductions = m.DailyProductions
}

func (m *CatalogModule) RegisterWorkers(*river.Workers) error { return nil }

func (m *CatalogModule) Shutdown(context.Context) error { return nil }

// ProductionModule composes the plan and stage assignment workflows around
// one coordinator.
type ProductionModule struct {
	Plans            *workflow.PlanWorkflow
	StageAssignments *workflow.StageAssignmentWorkflow
}

// NewProductionModule creates the workflows on top of the catalog services.
func NewProductionModule(infra *Infrastructure, catalog *CatalogModule) *ProductionModule {
	deps := infra.ServiceDeps()
	coord := workflow.NewCoordinator(deps)
	return &ProductionModule{
		Plans:            workflow.NewPlanWorkflow(deps, catalog.ProductionLines, catalog.BrickTypes, coord),
		StageAssignments: workflow.NewStageAssignmentWorkflow(deps, coord),
	}
}

func (m *ProductionModule) Name() string { return "production" }

func (m *ProductionModule) ContributeServerDeps(deps *handlers.ServerDeps) {
	deps.Plans = m.Plans
	deps.StageAssignments = m.StageAssignments
}

func (m *ProductionModule) RegisterWorkers(*river.Workers) error { return nil }

func (m *ProductionModule) Shutdown(context.Context) error { return nil }
