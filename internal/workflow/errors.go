package workflow

import (
	"errors"
	"fmt"

	"github.com/VicenzaTech/psm-backend/internal/domain"
	apperrors "github.com/VicenzaTech/psm-backend/internal/pkg/errors"
	"github.com/VicenzaTech/psm-backend/internal/repository"
)

const (
	entityPlan       = "ProductionPlan"
	entityAssignment = "StageAssignment"
)

func planLookupError(err error, id int64) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.ErrNotFoundf(apperrors.CodeProductionPlanNotFound, entityPlan, id)
	}
	return fmt.Errorf("get production plan %d: %w", id, err)
}

func assignmentLookupError(err error, id int64) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.ErrNotFoundf(apperrors.CodeStageAssignmentNotFound, entityAssignment, id)
	}
	return fmt.Errorf("get stage assignment %d: %w", id, err)
}

// transitionError converts a *domain.TransitionError into the user-visible
// InvalidTransition error. Other errors pass through.
func transitionError(err error, entity string, id int64) error {
	var te *domain.TransitionError
	if errors.As(err, &te) {
		return apperrors.ErrInvalidTransitionf(entity, id, te.Current, te.Attempted)
	}
	return err
}

func planCodeExists(code string) error {
	return apperrors.Conflict(apperrors.CodePlanCodeExists,
		fmt.Sprintf("production plan code %q already exists", code)).
		WithParams(map[string]interface{}{"plan_code": code})
}
