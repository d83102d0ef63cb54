package workflow

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/VicenzaTech/psm-backend/internal/cache"
	"github.com/VicenzaTech/psm-backend/internal/domain"
	apperrors "github.com/VicenzaTech/psm-backend/internal/pkg/errors"
	"github.com/VicenzaTech/psm-backend/internal/pkg/logger"
	"github.com/VicenzaTech/psm-backend/internal/repository"
	"github.com/VicenzaTech/psm-backend/internal/service"
)

// StageAssignmentInput schedules a stage for a plan.
type StageAssignmentInput struct {
	ProductionPlanID int64        `json:"productionPlanId"`
	Stage            domain.Stage `json:"stage"`
	TargetQuantity   *int64       `json:"targetQuantity"`
	Notes            string       `json:"notes"`
}

// StageAssignmentPatch updates an assignment. A status change follows the
// same rules as UpdateStatus.
type StageAssignmentPatch struct {
	TargetQuantity *int64              `json:"targetQuantity"`
	Notes          *string             `json:"notes"`
	Status         *domain.StageStatus `json:"status"`
}

// StageAssignmentListFilter narrows List. The zero value is cached.
type StageAssignmentListFilter struct {
	ProductionPlanID *int64
	ProductionLineID *int64
}

// StageAssignmentWorkflow runs the stage execution lifecycle.
//
// At most one active assignment may exist per stage across all plans. Create
// checks that up front for a readable error, but the storage constraint
// behind repository.ConstraintActiveStage is what holds it under concurrency.
type StageAssignmentWorkflow struct {
	deps  service.Deps
	coord *Coordinator
}

// NewStageAssignmentWorkflow creates a new StageAssignmentWorkflow.
func NewStageAssignmentWorkflow(deps service.Deps, coord *Coordinator) *StageAssignmentWorkflow {
	return &StageAssignmentWorkflow{deps: deps.WithDefaults(), coord: coord}
}

// Create schedules in.Stage for a plan that is not closed. The new
// assignment is active and WAITING, with line and brick type copied from the
// plan.
func (w *StageAssignmentWorkflow) Create(ctx context.Context, in StageAssignmentInput, actor string) (domain.Result[domain.StageAssignment], error) {
	if !in.Stage.Valid() {
		return domain.Result[domain.StageAssignment]{}, apperrors.ErrValidationf("stage", "unknown stage %q", in.Stage)
	}
	if in.TargetQuantity != nil && *in.TargetQuantity < 0 {
		return domain.Result[domain.StageAssignment]{}, apperrors.ErrValidationf("targetQuantity", "targetQuantity must be greater than or equal to 0")
	}

	plan, err := w.deps.Repos.Plans.Get(ctx, in.ProductionPlanID)
	if err != nil {
		return domain.Result[domain.StageAssignment]{}, planLookupError(err, in.ProductionPlanID)
	}
	if plan.Status.Closed() {
		return domain.Result[domain.StageAssignment]{}, apperrors.Conflict(apperrors.CodePlanClosed,
			fmt.Sprintf("cannot schedule a stage for plan %s in status %s", plan.PlanCode, plan.Status)).
			WithParams(map[string]interface{}{
				"production_plan_id": plan.ID,
				"status":             string(plan.Status),
			})
	}

	holder, err := w.deps.Repos.StageAssignments.FindActiveByStage(ctx, in.Stage)
	switch {
	case err == nil:
		return domain.Result[domain.StageAssignment]{}, w.stageTaken(ctx, in.Stage, holder.ProductionPlanID)
	case !errors.Is(err, repository.ErrNotFound):
		return domain.Result[domain.StageAssignment]{}, fmt.Errorf("find active stage %s: %w", in.Stage, err)
	}

	now := w.deps.Now()
	created, err := w.deps.Repos.StageAssignments.Create(ctx, domain.StageAssignment{
		ProductionPlanID: plan.ID,
		ProductionLineID: plan.ProductionLineID,
		BrickTypeID:      plan.BrickTypeID,
		Stage:            in.Stage,
		Status:           domain.StageStatusWaiting,
		IsActive:         true,
		TargetQuantity:   in.TargetQuantity,
		Notes:            in.Notes,
		CreatedBy:        actor,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	if err != nil {
		return domain.Result[domain.StageAssignment]{}, w.writeError(ctx, err, in.Stage)
	}

	related, err := w.coord.AssignmentWritten(ctx, created)
	if err != nil {
		return domain.Result[domain.StageAssignment]{}, err
	}
	change := domain.NewChange(domain.ActionStartStageAssignment, domain.EntityStageAssignment, created.ID,
		fmt.Sprintf("Stage %s scheduled for plan %s", created.Stage, plan.PlanCode)).
		WithMeta("productionPlanId", plan.ID).
		WithMeta("stage", string(created.Stage)).
		By(actor)
	return domain.Result[domain.StageAssignment]{Data: created, Change: change, Related: related}, nil
}

// stageTaken builds the conflict naming the plan that holds stage.
func (w *StageAssignmentWorkflow) stageTaken(ctx context.Context, stage domain.Stage, planID int64) error {
	var code string
	if plan, err := w.deps.Repos.Plans.Get(ctx, planID); err == nil {
		code = plan.PlanCode
	}
	return apperrors.ErrStageAlreadyActivef(string(stage), planID, code)
}

// writeError maps a failed assignment write. A violation of the active
// stage constraint means another writer claimed the stage after the
// pre-check; the winner is re-read so the error can name it.
func (w *StageAssignmentWorkflow) writeError(ctx context.Context, err error, stage domain.Stage) error {
	if repository.ViolatedConstraint(err) != repository.ConstraintActiveStage {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NotFound(apperrors.CodeStageAssignmentNotFound, "stage assignment or its plan not found")
		}
		return fmt.Errorf("write stage assignment: %w", err)
	}
	logger.Info("concurrent stage claim rejected by storage constraint",
		zap.String("stage", string(stage)),
	)
	holder, ferr := w.deps.Repos.StageAssignments.FindActiveByStage(ctx, stage)
	if ferr != nil {
		return apperrors.ErrStageAlreadyActivef(string(stage), 0, "")
	}
	return w.stageTaken(ctx, stage, holder.ProductionPlanID)
}

// UpdateStatus moves an active assignment to status. StartTime is stamped
// the first time it runs and EndTime the first time it stops or fails; the
// owning plan is then recomputed.
func (w *StageAssignmentWorkflow) UpdateStatus(ctx context.Context, id int64, status domain.StageStatus, actor string) (domain.Result[domain.StageAssignment], error) {
	return w.Update(ctx, id, StageAssignmentPatch{Status: &status}, actor)
}

// Update applies patch to assignment id.
func (w *StageAssignmentWorkflow) Update(ctx context.Context, id int64, patch StageAssignmentPatch, actor string) (domain.Result[domain.StageAssignment], error) {
	a, err := w.load(ctx, id)
	if err != nil {
		return domain.Result[domain.StageAssignment]{}, err
	}
	if patch.TargetQuantity != nil && *patch.TargetQuantity < 0 {
		return domain.Result[domain.StageAssignment]{}, apperrors.ErrValidationf("targetQuantity", "targetQuantity must be greater than or equal to 0")
	}

	expected := repository.StateOf(a)
	before := a.Status
	now := w.deps.Now()
	if patch.Status != nil {
		if !patch.Status.Valid() {
			return domain.Result[domain.StageAssignment]{}, apperrors.ErrValidationf("status", "unknown stage status %q", *patch.Status)
		}
		if !a.IsActive {
			return domain.Result[domain.StageAssignment]{}, apperrors.Conflict(apperrors.CodeStageAssignmentInactive,
				fmt.Sprintf("stage assignment %d is disabled", id)).
				WithParams(map[string]interface{}{"id": id})
		}
		if err := a.ApplyStatus(*patch.Status, now); err != nil {
			return domain.Result[domain.StageAssignment]{}, transitionError(err, entityAssignment, id)
		}
	}
	if patch.TargetQuantity != nil {
		a.TargetQuantity = patch.TargetQuantity
	}
	if patch.Notes != nil {
		a.Notes = *patch.Notes
	}
	a.UpdatedAt = now

	updated, err := w.deps.Repos.StageAssignments.Update(ctx, a, expected)
	if errors.Is(err, repository.ErrStale) {
		return domain.Result[domain.StageAssignment]{}, w.staleError(ctx, id, a.Status)
	}
	if err != nil {
		return domain.Result[domain.StageAssignment]{}, w.writeError(ctx, err, a.Stage)
	}
	related, err := w.coord.AssignmentWritten(ctx, updated)
	if err != nil {
		return domain.Result[domain.StageAssignment]{}, err
	}

	change := domain.NewChange(domain.ActionUpdateStageAssignment, domain.EntityStageAssignment, updated.ID,
		fmt.Sprintf("Stage assignment %s (id %d) updated", updated.Stage, updated.ID)).
		WithMeta("productionPlanId", updated.ProductionPlanID).
		By(actor)
	if before != updated.Status {
		change = change.WithMeta("before", string(before)).WithMeta("after", string(updated.Status))
	}
	return domain.Result[domain.StageAssignment]{Data: updated, Change: change, Related: related}, nil
}

// staleError reports a write that lost to a concurrent change as an invalid
// transition from the status the assignment has now.
func (w *StageAssignmentWorkflow) staleError(ctx context.Context, id int64, attempted domain.StageStatus) error {
	current, err := w.load(ctx, id)
	if err != nil {
		return err
	}
	logger.Info("stage assignment write lost to a concurrent change",
		zap.Int64("stage_assignment_id", id),
		zap.String("current", string(current.Status)),
		zap.Bool("is_active", current.IsActive),
	)
	return apperrors.ErrInvalidTransitionf(entityAssignment, id, string(current.Status), string(attempted))
}

// disableAttempts bounds how often Disable reloads after losing a race.
const disableAttempts = 3

// Disable releases the stage: the assignment becomes inactive and STOPPED.
// Disabling an inactive assignment changes nothing. Disable is legal from
// every state, so a concurrent change only makes it reload and try again.
func (w *StageAssignmentWorkflow) Disable(ctx context.Context, id int64, actor string) (domain.Result[domain.StageAssignment], error) {
	var err error
	for attempt := 0; attempt < disableAttempts; attempt++ {
		var res domain.Result[domain.StageAssignment]
		res, err = w.disable(ctx, id, actor)
		if !errors.Is(err, repository.ErrStale) {
			return res, err
		}
	}
	return domain.Result[domain.StageAssignment]{}, fmt.Errorf("disable stage assignment %d: %w", id, err)
}

func (w *StageAssignmentWorkflow) disable(ctx context.Context, id int64, actor string) (domain.Result[domain.StageAssignment], error) {
	a, err := w.load(ctx, id)
	if err != nil {
		return domain.Result[domain.StageAssignment]{}, err
	}
	if !a.IsActive {
		change := domain.NewChange(domain.ActionStopStageAssignment, domain.EntityStageAssignment, a.ID,
			fmt.Sprintf("Stage assignment %s (id %d) is already inactive", a.Stage, a.ID)).
			By(actor)
		return domain.Result[domain.StageAssignment]{Data: a, Change: change}, nil
	}

	expected := repository.StateOf(a)
	before := a.Status
	now := w.deps.Now()
	a.IsActive = false
	a.Status = domain.StageStatusStopped
	a.EndTime = &now
	a.UpdatedAt = now

	updated, err := w.deps.Repos.StageAssignments.Update(ctx, a, expected)
	if errors.Is(err, repository.ErrStale) {
		return domain.Result[domain.StageAssignment]{}, err
	}
	if err != nil {
		return domain.Result[domain.StageAssignment]{}, w.writeError(ctx, err, a.Stage)
	}
	related, err := w.coord.AssignmentWritten(ctx, updated)
	if err != nil {
		return domain.Result[domain.StageAssignment]{}, err
	}

	change := domain.NewChange(domain.ActionStopStageAssignment, domain.EntityStageAssignment, updated.ID,
		fmt.Sprintf("Stage assignment %s (id %d) stopped", updated.Stage, updated.ID)).
		WithMeta("productionPlanId", updated.ProductionPlanID).
		WithMeta("before", string(before)).
		WithMeta("after", string(updated.Status)).
		By(actor)
	return domain.Result[domain.StageAssignment]{Data: updated, Change: change, Related: related}, nil
}

// Get returns an assignment, cached under its fixed key.
func (w *StageAssignmentWorkflow) Get(ctx context.Context, id int64) (domain.StageAssignment, error) {
	return cache.ReadOne(ctx, w.deps.Cache, cache.StageAssignmentKey(id), w.deps.EntityTTL,
		func(ctx context.Context) (domain.StageAssignment, error) {
			return w.load(ctx, id)
		})
}

// List returns assignments ordered by id. Only the unfiltered query is
// cached.
func (w *StageAssignmentWorkflow) List(ctx context.Context, f StageAssignmentListFilter) ([]domain.StageAssignment, error) {
	sig := cache.Signature(map[string]string{
		"productionPlanId": service.IDToken(f.ProductionPlanID),
		"productionLineId": service.IDToken(f.ProductionLineID),
	})
	return cache.ReadThrough(ctx, w.deps.Cache, cache.ScopeStageAssignments, sig, w.deps.ListTTL,
		func(ctx context.Context) ([]domain.StageAssignment, error) {
			filter := repository.StageAssignmentFilter{ProductionLineID: f.ProductionLineID}
			if f.ProductionPlanID != nil {
				filter.ProductionPlanIDs = []int64{*f.ProductionPlanID}
			}
			out, err := w.deps.Repos.StageAssignments.List(ctx, filter)
			if err != nil {
				return nil, fmt.Errorf("list stage assignments: %w", err)
			}
			return out, nil
		})
}

func (w *StageAssignmentWorkflow) load(ctx context.Context, id int64) (domain.StageAssignment, error) {
	a, err := w.deps.Repos.StageAssignments.Get(ctx, id)
	if err != nil {
		return domain.StageAssignment{}, assignmentLookupError(err, id)
	}
	return a, nil
}
