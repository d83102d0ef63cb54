package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/VicenzaTech/psm-backend/internal/domain"
	apperrors "github.com/VicenzaTech/psm-backend/internal/pkg/errors"
	"github.com/VicenzaTech/psm-backend/internal/workflow"
)

type createPlanRequest struct {
	PlanCode         string `json:"planCode"`
	ProductionLineID int64  `json:"productionLineId"`
	BrickTypeID      int64  `json:"brickTypeId"`
	TargetQuantity   int64  `json:"targetQuantity"`
	StartDate        date   `json:"startDate"`
	EndDate          date   `json:"endDate"`
	Customer         string `json:"customer"`
	Notes            string `json:"notes"`
}

type updatePlanRequest struct {
	PlanCode         *string `json:"planCode"`
	ProductionLineID *int64  `json:"productionLineId"`
	BrickTypeID      *int64  `json:"brickTypeId"`
	TargetQuantity   *int64  `json:"targetQuantity"`
	StartDate        *date   `json:"startDate"`
	EndDate          *date   `json:"endDate"`
	Customer         *string `json:"customer"`
	Notes            *string `json:"notes"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// ListPlans handles GET /production-plans.
func (s *Server) ListPlans(c *gin.Context) {
	lineID, ok := queryInt64(c, "productionLineId")
	if !ok {
		return
	}
	status := domain.PlanStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		fail(c, apperrors.ErrValidationf("status", "unknown plan status %q", status))
		return
	}
	items, err := s.plans.List(c.Request.Context(), workflow.PlanListFilter{
		ProductionLineID: lineID,
		Status:           status,
		Customer:         c.Query("customer"),
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list(items))
}

// CreatePlan handles POST /production-plans.
func (s *Server) CreatePlan(c *gin.Context) {
	var req createPlanRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.StartDate.IsZero() || req.EndDate.IsZero() {
		fail(c, apperrors.ErrValidationf("startDate", "startDate and endDate are required"))
		return
	}
	res, err := s.plans.Create(c.Request.Context(), workflow.PlanInput{
		PlanCode:         req.PlanCode,
		ProductionLineID: req.ProductionLineID,
		BrickTypeID:      req.BrickTypeID,
		TargetQuantity:   req.TargetQuantity,
		StartDate:        req.StartDate.Time,
		EndDate:          req.EndDate.Time,
		Customer:         req.Customer,
		Notes:            req.Notes,
	}, actorFromCtx(c))
	if err != nil {
		fail(c, err)
		return
	}
	respond(s, c, http.StatusCreated, res)
}

// GetPlan handles GET /production-plans/:id.
func (s *Server) GetPlan(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	plan, err := s.plans.Get(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

// UpdatePlan handles PATCH /production-plans/:id.
func (s *Server) UpdatePlan(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req updatePlanRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := s.plans.Update(c.Request.Context(), id, workflow.PlanPatch{
		PlanCode:         req.PlanCode,
		ProductionLineID: req.ProductionLineID,
		BrickTypeID:      req.BrickTypeID,
		TargetQuantity:   req.TargetQuantity,
		StartDate:        req.StartDate.ptr(),
		EndDate:          req.EndDate.ptr(),
		Customer:         req.Customer,
		Notes:            req.Notes,
	}, actorFromCtx(c))
	if err != nil {
		fail(c, err)
		return
	}
	respond(s, c, http.StatusOK, res)
}

// RemovePlan handles DELETE /production-plans/:id.
func (s *Server) RemovePlan(c *gin.Context) {
	s.planAction(c, s.plans.Remove)
}

// ApprovePlan handles POST /production-plans/:id/approve.
func (s *Server) ApprovePlan(c *gin.Context) {
	s.planAction(c, s.plans.Approve)
}

// RejectPlan handles POST /production-plans/:id/reject.
func (s *Server) RejectPlan(c *gin.Context) {
	s.planReasonAction(c, s.plans.Reject)
}

// MarkPlanInProgress handles POST /production-plans/:id/in-progress.
func (s *Server) MarkPlanInProgress(c *gin.Context) {
	s.planAction(c, s.plans.MarkInProgress)
}

// CompletePlan handles POST /production-plans/:id/complete.
func (s *Server) CompletePlan(c *gin.Context) {
	s.planAction(c, s.plans.MarkCompleted)
}

// CancelPlan handles POST /production-plans/:id/cancel.
func (s *Server) CancelPlan(c *gin.Context) {
	s.planReasonAction(c, s.plans.MarkCancelled)
}

type planOp func(ctx context.Context, id int64, actor string) (domain.Result[domain.ProductionPlan], error)

type planReasonOp func(ctx context.Context, id int64, reason, actor string) (domain.Result[domain.ProductionPlan], error)

func (s *Server) planAction(c *gin.Context, op planOp) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	res, err := op(c.Request.Context(), id, actorFromCtx(c))
	if err != nil {
		fail(c, err)
		return
	}
	respond(s, c, http.StatusOK, res)
}

// planReasonAction accepts an empty body; the reason is optional.
func (s *Server) planReasonAction(c *gin.Context, op planReasonOp) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req reasonRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	res, err := op(c.Request.Context(), id, req.Reason, actorFromCtx(c))
	if err != nil {
		fail(c, err)
		return
	}
	respond(s, c, http.StatusOK, res)
}
