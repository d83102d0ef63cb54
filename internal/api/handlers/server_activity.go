package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/VicenzaTech/psm-backend/internal/domain"
	"github.com/VicenzaTech/psm-backend/internal/governance/audit"
	apperrors "github.com/VicenzaTech/psm-backend/internal/pkg/errors"
)

const maxActivityLimit = 500

var activityEntities = map[domain.EntityType]bool{
	domain.EntityWorkshop:             true,
	domain.EntityProductionLine:       true,
	domain.EntityBrickType:            true,
	domain.EntityProductionPlan:       true,
	domain.EntityStageAssignment:      true,
	domain.EntityDailyStageProduction: true,
	domain.EntityDevice:               true,
}

// ListActivityLogs handles
// GET /activity-logs?actionType=&entityType=&entityId=&actor=&page=&limit=.
// Every filter is optional.
func (s *Server) ListActivityLogs(c *gin.Context) {
	q := audit.Query{
		ActionType: strings.TrimSpace(c.Query("actionType")),
		Actor:      strings.TrimSpace(c.Query("actor")),
	}
	if raw := strings.TrimSpace(c.Query("entityType")); raw != "" {
		q.EntityType = domain.EntityType(raw)
		if !activityEntities[q.EntityType] {
			fail(c, apperrors.ErrValidationf("entityType", "entityType %q is not supported", raw))
			return
		}
	}
	id, ok := queryInt64(c, "entityId")
	if !ok {
		return
	}
	if id != nil && *id <= 0 {
		fail(c, apperrors.ErrValidationf("entityId", "entityId must be a positive integer"))
		return
	}
	q.EntityID = id

	page, ok := queryInt64(c, "page")
	if !ok {
		return
	}
	q.Page = 1
	if page != nil {
		if *page <= 0 {
			fail(c, apperrors.ErrValidationf("page", "page must be a positive integer"))
			return
		}
		q.Page = int(*page)
	}
	limit, ok := queryInt64(c, "limit")
	if !ok {
		return
	}
	q.Limit = audit.DefaultPageLimit
	if limit != nil {
		if *limit <= 0 || *limit > maxActivityLimit {
			fail(c, apperrors.ErrValidationf("limit", "limit must be between 1 and %d", maxActivityLimit))
			return
		}
		q.Limit = int(*limit)
	}

	result, err := s.activity.List(c.Request.Context(), q)
	if err != nil {
		fail(c, err)
		return
	}
	if result.Items == nil {
		result.Items = []audit.Entry{}
	}
	c.JSON(http.StatusOK, result)
}
