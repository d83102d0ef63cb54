package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/VicenzaTech/psm-backend/internal/domain"
	apperrors "github.com/VicenzaTech/psm-backend/internal/pkg/errors"
	"github.com/VicenzaTech/psm-backend/internal/repository"
	"github.com/VicenzaTech/psm-backend/internal/service"
)

type upsertDailyRequest struct {
	StageAssignmentID int64             `json:"stageAssignmentId"`
	ProductionDate    date              `json:"productionDate"`
	Shift             domain.Shift      `json:"shift"`
	StartCounter      *int64            `json:"startCounter"`
	EndCounter        *int64            `json:"endCounter"`
	ActualQuantity    int64             `json:"actualQuantity"`
	WasteQuantity     int64             `json:"wasteQuantity"`
	DataSource        domain.DataSource `json:"dataSource"`
	Notes             string            `json:"notes"`
}

type startShiftRequest struct {
	StageAssignmentID int64        `json:"stageAssignmentId"`
	Shift             domain.Shift `json:"shift"`
	StartCounter      int64        `json:"startCounter"`
}

type counterRequest struct {
	StageAssignmentID int64        `json:"stageAssignmentId"`
	Shift             domain.Shift `json:"shift"`
	CounterTotal      int64        `json:"counterTotal"`
}

// ListDailyProductions handles GET /daily-productions.
func (s *Server) ListDailyProductions(c *gin.Context) {
	assignmentID, ok := queryInt64(c, "stageAssignmentId")
	if !ok {
		return
	}
	day, ok := queryDate(c, "date")
	if !ok {
		return
	}
	f := repository.DailyProductionFilter{StageAssignmentID: assignmentID}
	if day != nil {
		d := domain.ProductionDay(*day)
		f.ProductionDate = &d
	}
	if raw, present := c.GetQuery("shift"); present {
		shift := domain.Shift(raw)
		if !shift.Valid() {
			fail(c, apperrors.ErrValidationf("shift", "unknown shift %q", raw))
			return
		}
		f.Shift = &shift
	}

	items, err := s.daily.List(c.Request.Context(), f)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list(items))
}

// UpsertDailyProduction handles POST /daily-productions.
func (s *Server) UpsertDailyProduction(c *gin.Context) {
	var req upsertDailyRequest
	if !bindJSON(c, &req) {
		return
	}
	actor := actorFromCtx(c)
	res, err := s.daily.Upsert(c.Request.Context(), service.DailyProductionInput{
		StageAssignmentID: req.StageAssignmentID,
		ProductionDate:    req.ProductionDate.Time,
		Shift:             req.Shift,
		StartCounter:      req.StartCounter,
		EndCounter:        req.EndCounter,
		ActualQuantity:    req.ActualQuantity,
		WasteQuantity:     req.WasteQuantity,
		DataSource:        req.DataSource,
		RecordedBy:        actor,
		Notes:             req.Notes,
	}, actor)
	if err != nil {
		fail(c, err)
		return
	}
	respond(s, c, http.StatusOK, res)
}

// GetDailyProduction handles GET /daily-productions/:id.
func (s *Server) GetDailyProduction(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	rec, err := s.daily.Get(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// StartShift handles POST /daily-productions/start-shift.
func (s *Server) StartShift(c *gin.Context) {
	var req startShiftRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := s.daily.StartShift(c.Request.Context(), req.StageAssignmentID, req.Shift, req.StartCounter, actorFromCtx(c))
	if err != nil {
		fail(c, err)
		return
	}
	respond(s, c, http.StatusOK, res)
}

// RecordCounter handles POST /daily-productions/counter.
func (s *Server) RecordCounter(c *gin.Context) {
	var req counterRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := s.daily.RecordCounter(c.Request.Context(), req.StageAssignmentID, req.Shift, req.CounterTotal)
	if err != nil {
		fail(c, err)
		return
	}
	respond(s, c, http.StatusOK, res)
}
