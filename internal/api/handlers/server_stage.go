package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/VicenzaTech/psm-backend/internal/domain"
	"github.com/VicenzaTech/psm-backend/internal/workflow"
)

type stageStatusRequest struct {
	Status domain.StageStatus `json:"status"`
}

// ListStageAssignments handles GET /stage-assignments.
func (s *Server) ListStageAssignments(c *gin.Context) {
	planID, ok := queryInt64(c, "productionPlanId")
	if !ok {
		return
	}
	lineID, ok := queryInt64(c, "productionLineId")
	if !ok {
		return
	}
	items, err := s.stages.List(c.Request.Context(), workflow.StageAssignmentListFilter{
		ProductionPlanID: planID,
		ProductionLineID: lineID,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list(items))
}

// CreateStageAssignment handles POST /stage-assignments.
func (s *Server) CreateStageAssignment(c *gin.Context) {
	var req workflow.StageAssignmentInput
	if !bindJSON(c, &req) {
		return
	}
	res, err := s.stages.Create(c.Request.Context(), req, actorFromCtx(c))
	if err != nil {
		fail(c, err)
		return
	}
	respond(s, c, http.StatusCreated, res)
}

// GetStageAssignment handles GET /stage-assignments/:id.
func (s *Server) GetStageAssignment(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	a, err := s.stages.Get(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// UpdateStageAssignment handles PATCH /stage-assignments/:id.
func (s *Server) UpdateStageAssignment(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req workflow.StageAssignmentPatch
	if !bindJSON(c, &req) {
		return
	}
	res, err := s.stages.Update(c.Request.Context(), id, req, actorFromCtx(c))
	if err != nil {
		fail(c, err)
		return
	}
	respond(s, c, http.StatusOK, res)
}

// UpdateStageAssignmentStatus handles POST /stage-assignments/:id/status.
// A move to RUNNING may advance the owning plan to IN_PROGRESS; that change
// is dispatched alongside the assignment's own record.
func (s *Server) UpdateStageAssignmentStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req stageStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := s.stages.UpdateStatus(c.Request.Context(), id, req.Status, actorFromCtx(c))
	if err != nil {
		fail(c, err)
		return
	}
	respond(s, c, http.StatusOK, res)
}

// DisableStageAssignment handles POST /stage-assignments/:id/disable.
func (s *Server) DisableStageAssignment(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	res, err := s.stages.Disable(c.Request.Context(), id, actorFromCtx(c))
	if err != nil {
		fail(c, err)
		return
	}
	respond(s, c, http.StatusOK, res)
}
