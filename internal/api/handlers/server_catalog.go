package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/VicenzaTech/psm-backend/internal/service"
)

// ListWorkshops handles GET /workshops.
func (s *Server) ListWorkshops(c *gin.Context) {
	isActive, ok := queryBool(c, "isActive")
	if !ok {
		return
	}
	items, err := s.workshops.List(c.Request.Context(), isActive)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list(items))
}

// CreateWorkshop handles POST /workshops.
func (s *Server) CreateWorkshop(c *gin.Context) {
	var req service.WorkshopInput
	if !bindJSON(c, &req) {
		return
	}
	res, err := s.workshops.Create(c.Request.Context(), req, actorFromCtx(c))
	if err != nil {
		fail(c, err)
		return
	}
	respond(s, c, http.StatusCreated, res)
}

// GetWorkshop handles GET /workshops/:id.
func (s *Server) GetWorkshop(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	w, err := s.workshops.Get(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

// UpdateWorkshop handles PATCH /workshops/:id.
func (s *Server) UpdateWorkshop(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req service.WorkshopPatch
	if !bindJSON(c, &req) {
		return
	}
	res, err := s.workshops.Update(c.Request.Context(), id, req, actorFromCtx(c))
	if err != nil {
		fail(c, err)
		return
	}
	respond(s, c, http.StatusOK, res)
}

// DisableWorkshop handles DELETE /workshops/:id. Workshops are soft deleted.
func (s *Server) DisableWorkshop(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	res, err := s.workshops.Disable(c.Request.Context(), id, actorFromCtx(c))
	if err != nil {
		fail(c, err)
		return
	}
	respond(s, c, http.StatusOK, res)
}

// ListProductionLines handles GET /production-lines.
func (s *Server) ListProductionLines(c *gin.Context) {
	workshopID, ok := queryInt64(c, "workshopId")
	if !ok {
		return
	}
	isActive, ok := queryBool(c, "isActive")
	if !ok {
		return
	}
	items, err := s.lines.List(c.Request.Context(), workshopID, isActive)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list(items))
}

// CreateProductionLine handles POST /production-lines.
func (s *Server) CreateProductionLine(c *gin.Context) {
	var req service.ProductionLineInput
	if !bindJSON(c, &req) {
		return
	}
	res, err := s.lines.Create(c.Request.Context(), req, actorFromCtx(c))
	if err != nil {
		fail(c, err)
		return
	}
	respond(s, c, http.StatusCreated, res)
}

// GetProductionLine handles GET /production-lines/:id.
func (s *Server) GetProductionLine(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	l, err := s.lines.Get(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

// UpdateProductionLine handles PATCH /production-lines/:id.
func (s *Server) UpdateProductionLine(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req service.ProductionLinePatch
	if !bindJSON(c, &req) {
		return
	}
	res, err := s.lines.Update(c.Request.Context(), id, req, actorFromCtx(c))
	if err != nil {
		fail(c, err)
		return
	}
	respond(s, c, http.StatusOK, res)
}

// DisableProductionLine handles DELETE /production-lines/:id.
func (s *Server) DisableProductionLine(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	res, err := s.lines.Disable(c.Request.Context(), id, actorFromCtx(c))
	if err != nil {
		fail(c, err)
		return
	}
	respond(s, c, http.StatusOK, res)
}

// ListBrickTypes handles GET /brick-types.
func (s *Server) ListBrickTypes(c *gin.Context) {
	isActive, ok := queryBool(c, "isActive")
	if !ok {
		return
	}
	items, err := s.brickTypes.List(c.Request.Context(), c.Query("type"), isActive)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list(items))
}

// CreateBrickType handles POST /brick-types.
func (s *Server) CreateBrickType(c *gin.Context) {
	var req service.BrickTypeInput
	if !bindJSON(c, &req) {
		return
	}
	res, err := s.brickTypes.Create(c.Request.Context(), req, actorFromCtx(c))
	if err != nil {
		fail(c, err)
		return
	}
	respond(s, c, http.StatusCreated, res)
}

// GetBrickType handles GET /brick-types/:id.
func (s *Server) GetBrickType(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	b, err := s.brickTypes.Get(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// UpdateBrickType handles PATCH /brick-types/:id.
func (s *Server) UpdateBrickType(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req service.BrickTypePatch
	if !bindJSON(c, &req) {
		return
	}
	res, err := s.brickTypes.Update(c.Request.Context(), id, req, actorFromCtx(c))
	if err != nil {
		fail(c, err)
		return
	}
	respond(s, c, http.StatusOK, res)
}

// DisableBrickType handles DELETE /brick-types/:id.
func (s *Server) DisableBrickType(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	res, err := s.brickTypes.Disable(c.Request.Context(), id, actorFromCtx(c))
	if err != nil {
		fail(c, err)
		return
	}
	respond(s, c, http.StatusOK, res)
}
