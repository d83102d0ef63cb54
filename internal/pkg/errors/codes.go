package errors

import "fmt"

// Error codes are the stable wire contract. Messages are English and may change.

// NotFound codes.
const (
	CodeWorkshopNotFound        = "WORKSHOP_NOT_FOUND"
	CodeProductionLineNotFound  = "PRODUCTION_LINE_NOT_FOUND"
	CodeBrickTypeNotFound       = "BRICK_TYPE_NOT_FOUND"
	CodeProductionPlanNotFound  = "PRODUCTION_PLAN_NOT_FOUND"
	CodeStageAssignmentNotFound = "STAGE_ASSIGNMENT_NOT_FOUND"
	CodeDailyProductionNotFound = "DAILY_PRODUCTION_NOT_FOUND"
	CodeDeviceMappingNotFound   = "DEVICE_MAPPING_NOT_FOUND"
)

// InvalidTransition codes.
const (
	CodeInvalidStatusTransition = "INVALID_STATUS_TRANSITION"
)

// Conflict codes.
const (
	CodeWorkshopCodeExists       = "WORKSHOP_CODE_EXISTS"
	CodeProductionLineCodeExists = "PRODUCTION_LINE_CODE_EXISTS"
	CodeBrickTypeCodeExists      = "BRICK_TYPE_CODE_EXISTS"
	CodePlanCodeExists           = "PLAN_CODE_EXISTS"
	CodeStageAlreadyActive       = "STAGE_ALREADY_ACTIVE"
	CodeParentInactive           = "PARENT_INACTIVE"
	CodePlanClosed               = "PLAN_CLOSED"
	CodeStageAssignmentInactive  = "STAGE_ASSIGNMENT_INACTIVE"
	CodeDeviceAlreadyMapped      = "DEVICE_ALREADY_MAPPED"
	CodeStageAlreadyMapped       = "STAGE_ALREADY_MAPPED"
)

// Validation codes.
const (
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeInternal         = "INTERNAL_ERROR"
)

// Convenience constructors using predefined codes.

// ErrNotFoundf creates a NotFound error for an entity identified by id.
func ErrNotFoundf(code, entity string, id int64) *AppError {
	return NotFound(code, fmt.Sprintf("%s with id %d not found", entity, id)).
		WithParams(map[string]interface{}{"id": id})
}

// ErrInvalidTransitionf names both the current and the attempted state.
func ErrInvalidTransitionf(entity string, id int64, current, attempted string) *AppError {
	return InvalidTransition(
		CodeInvalidStatusTransition,
		fmt.Sprintf("%s %d cannot move from %s to %s", entity, id, current, attempted),
	).WithParams(map[string]interface{}{
		"id":        id,
		"current":   current,
		"attempted": attempted,
	})
}

// ErrStageAlreadyActivef reports the plan that currently holds the stage.
func ErrStageAlreadyActivef(stage string, planID int64, planCode string) *AppError {
	msg := fmt.Sprintf("stage %q is already assigned and active in plan %d", stage, planID)
	if planCode != "" {
		msg = fmt.Sprintf("stage %q is already assigned and active in plan %s (id %d)", stage, planCode, planID)
	}
	return Conflict(CodeStageAlreadyActive, msg+"; disable it before creating a new assignment").
		WithParams(map[string]interface{}{
			"stage":              stage,
			"production_plan_id": planID,
			"plan_code":          planCode,
		})
}

// ErrValidationf creates a validation error for a single field.
func ErrValidationf(field, format string, args ...interface{}) *AppError {
	return BadRequest(CodeValidationFailed, fmt.Sprintf(format, args...)).
		WithParams(map[string]interface{}{"field": field})
}
