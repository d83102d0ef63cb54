// Package handlers maps the /api/v1 HTTP surface onto services and workflows.
//
// Handlers bind input, call exactly one service or workflow operation, hand
// the returned change records to the audit dispatcher and render the data.
// Errors are attached with c.Error and rendered by middleware.ErrorHandler.
package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/VicenzaTech/psm-backend/internal/api/middleware"
	"github.com/VicenzaTech/psm-backend/internal/domain"
	"github.com/VicenzaTech/psm-backend/internal/governance/audit"
	"github.com/VicenzaTech/psm-backend/internal/service"
	"github.com/VicenzaTech/psm-backend/internal/workflow"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ActivityReader reads stored activity logs.
type ActivityReader interface {
	List(ctx context.Context, q audit.Query) (audit.Page, error)
}

// Server holds the request handlers.
type Server struct {
	workshops  *service.WorkshopService
	lines      *service.ProductionLineService
	brickTypes *service.BrickTypeService
	daily      *service.DailyProductionService
	plans      *workflow.PlanWorkflow
	stages     *workflow.StageAssignmentWorkflow
	devices    *service.StageDeviceMappingService
	audit      *audit.Dispatcher
	activity   ActivityReader
	db         Pinger
}

// ServerDeps holds all dependencies for creating a Server.
// Manual DI, no Wire/Dig.
type ServerDeps struct {
	Workshops        *service.WorkshopService
	ProductionLines  *service.ProductionLineService
	BrickTypes       *service.BrickTypeService
	DailyProductions *service.DailyProductionService
	Plans            *workflow.PlanWorkflow
	StageAssignments *workflow.StageAssignmentWorkflow
	DeviceMappings   *service.StageDeviceMappingService
	Audit            *audit.Dispatcher
	Activity         ActivityReader // Optional: nil in memory mode
	DB               Pinger         // Optional: nil in memory mode
}

// NewServer creates a new Server with all dependencies.
func NewServer(deps ServerDeps) *Server {
	return &Server{
		workshops:  deps.Workshops,
		lines:      deps.ProductionLines,
		brickTypes: deps.BrickTypes,
		daily:      deps.DailyProductions,
		plans:      deps.Plans,
		stages:     deps.StageAssignments,
		devices:    deps.DeviceMappings,
		audit:      deps.Audit,
		activity:   deps.Activity,
		db:         deps.DB,
	}
}

// RegisterRoutes mounts every resource on rg.
func (s *Server) RegisterRoutes(rg *gin.RouterGroup) {
	workshops := rg.Group("/workshops")
	workshops.GET("", s.ListWorkshops)
	workshops.POST("", s.CreateWorkshop)
	workshops.GET("/:id", s.GetWorkshop)
	workshops.PATCH("/:id", s.UpdateWorkshop)
	workshops.DELETE("/:id", s.DisableWorkshop)

	lines := rg.Group("/production-lines")
	lines.GET("", s.ListProductionLines)
	lines.POST("", s.CreateProductionLine)
	lines.GET("/:id", s.GetProductionLine)
	lines.PATCH("/:id", s.UpdateProductionLine)
	lines.DELETE("/:id", s.DisableProductionLine)

	brickTypes := rg.Group("/brick-types")
	brickTypes.GET("", s.ListBrickTypes)
	brickTypes.POST("", s.CreateBrickType)
	brickTypes.GET("/:id", s.GetBrickType)
	brickTypes.PATCH("/:id", s.UpdateBrickType)
	brickTypes.DELETE("/:id", s.DisableBrickType)

	plans := rg.Group("/production-plans")
	plans.GET("", s.ListPlans)
	plans.POST("", s.CreatePlan)
	plans.GET("/:id", s.GetPlan)
	plans.PATCH("/:id", s.UpdatePlan)
	plans.DELETE("/:id", s.RemovePlan)
	plans.POST("/:id/approve", s.ApprovePlan)
	plans.POST("/:id/reject", s.RejectPlan)
	plans.POST("/:id/in-progress", s.MarkPlanInProgress)
	plans.POST("/:id/complete", s.CompletePlan)
	plans.POST("/:id/cancel", s.CancelPlan)

	stages := rg.Group("/stage-assignments")
	stages.GET("", s.ListStageAssignments)
	stages.POST("", s.CreateStageAssignment)
	stages.GET("/:id", s.GetStageAssignment)
	stages.PATCH("/:id", s.UpdateStageAssignment)
	stages.POST("/:id/status", s.UpdateStageAssignmentStatus)
	stages.POST("/:id/disable", s.DisableStageAssignment)

	devices := rg.Group("/stage-device-mappings")
	devices.GET("", s.ListDeviceMappings)
	devices.POST("", s.CreateDeviceMapping)
	devices.GET("/:id", s.GetDeviceMapping)
	devices.PATCH("/:id", s.UpdateDeviceMapping)
	devices.DELETE("/:id", s.RemoveDeviceMapping)
	devices.POST("/:id/status", s.UpdateDeviceMappingStatus)
	devices.POST("/:id/activate", s.ActivateDeviceMapping)

	daily := rg.Group("/daily-productions")
	daily.GET("", s.ListDailyProductions)
	daily.POST("", s.UpsertDailyProduction)
	daily.GET("/:id", s.GetDailyProduction)
	daily.POST("/start-shift", s.StartShift)
	daily.POST("/counter", s.RecordCounter)

	// Memory mode keeps no activity log, so the route only exists with a reader.
	if s.activity != nil {
		rg.GET("/activity-logs", s.ListActivityLogs)
	}
}

// actorFromCtx returns the authenticated username.
// All handlers use this instead of hardcoded "anonymous".
func actorFromCtx(c *gin.Context) string {
	if username := middleware.GetUsername(c.Request.Context()); username != "" {
		return username
	}
	return "anonymous"
}

// respond dispatches the change records of res and renders its data.
func respond[T any](s *Server, c *gin.Context, status int, res domain.Result[T]) {
	s.audit.Dispatch(c.Request.Context(), res.Changes()...)
	c.JSON(status, res.Data)
}

// fail attaches err for middleware.ErrorHandler.
func fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

type listResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

func list[T any](items []T) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{Items: items, Total: len(items)}
}
