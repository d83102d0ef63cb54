package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/VicenzaTech/psm-backend/internal/domain"
	"github.com/VicenzaTech/psm-backend/internal/service"
)

type deviceStatusRequest struct {
	StageStatus domain.StageStatus `json:"stageStatus"`
}

// ListDeviceMappings handles GET /stage-device-mappings?productionLineId=&isActive=.
// Without isActive both active and inactive mappings are listed.
func (s *Server) ListDeviceMappings(c *gin.Context) {
	lineID, ok := queryInt64(c, "productionLineId")
	if !ok {
		return
	}
	isActive, ok := queryBool(c, "isActive")
	if !ok {
		return
	}
	items, err := s.devices.List(c.Request.Context(), service.DeviceMappingListFilter{
		ProductionLineID: lineID,
		IsActive:         isActive,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list(items))
}

// CreateDeviceMapping handles POST /stage-device-mappings.
func (s *Server) CreateDeviceMapping(c *gin.Context) {
	var req service.DeviceMappingInput
	if !bindJSON(c, &req) {
		return
	}
	res, err := s.devices.Create(c.Request.Context(), req, actorFromCtx(c))
	if err != nil {
		fail(c, err)
		return
	}
	respond(s, c, http.StatusCreated, res)
}

// GetDeviceMapping handles GET /stage-device-mappings/:id.
func (s *Server) GetDeviceMapping(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	m, err := s.devices.Get(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// UpdateDeviceMapping handles PATCH /stage-device-mappings/:id.
func (s *Server) UpdateDeviceMapping(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req service.DeviceMappingPatch
	if !bindJSON(c, &req) {
		return
	}
	res, err := s.devices.Update(c.Request.Context(), id, req, actorFromCtx(c))
	if err != nil {
		fail(c, err)
		return
	}
	respond(s, c, http.StatusOK, res)
}

// UpdateDeviceMappingStatus handles POST /stage-device-mappings/:id/status.
func (s *Server) UpdateDeviceMappingStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req deviceStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := s.devices.UpdateLiveStatus(c.Request.Context(), id, req.StageStatus, actorFromCtx(c))
	if err != nil {
		fail(c, err)
		return
	}
	respond(s, c, http.StatusOK, res)
}

// RemoveDeviceMapping handles DELETE /stage-device-mappings/:id. The row is
// kept inactive.
func (s *Server) RemoveDeviceMapping(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	res, err := s.devices.Remove(c.Request.Context(), id, actorFromCtx(c))
	if err != nil {
		fail(c, err)
		return
	}
	respond(s, c, http.StatusOK, res)
}

// ActivateDeviceMapping handles POST /stage-device-mappings/:id/activate.
func (s *Server) ActivateDeviceMapping(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	res, err := s.devices.Activate(c.Request.Context(), id, actorFromCtx(c))
	if err != nil {
		fail(c, err)
		return
	}
	respond(s, c, http.StatusOK, res)
}
