package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/VicenzaTech/psm-backend/internal/cache"
	"github.com/VicenzaTech/psm-backend/internal/domain"
	apperrors "github.com/VicenzaTech/psm-backend/internal/pkg/errors"
	"github.com/VicenzaTech/psm-backend/internal/repository"
	"github.com/VicenzaTech/psm-backend/internal/service"
)

// PlanInput creates a production plan.
type PlanInput struct {
	PlanCode         string    `json:"planCode"`
	ProductionLineID int64     `json:"productionLineId"`
	BrickTypeID      int64     `json:"brickTypeId"`
	TargetQuantity   int64     `json:"targetQuantity"`
	StartDate        time.Time `json:"startDate"`
	EndDate          time.Time `json:"endDate"`
	Customer         string    `json:"customer"`
	Notes            string    `json:"notes"`
}

// PlanPatch updates a DRAFT plan. Nil fields are left unchanged.
type PlanPatch struct {
	PlanCode         *string    `json:"planCode"`
	ProductionLineID *int64     `json:"productionLineId"`
	BrickTypeID      *int64     `json:"brickTypeId"`
	TargetQuantity   *int64     `json:"targetQuantity"`
	StartDate        *time.Time `json:"startDate"`
	EndDate          *time.Time `json:"endDate"`
	Customer         *string    `json:"customer"`
	Notes            *string    `json:"notes"`
}

// PlanListFilter narrows List. The zero value is the cached canonical query.
type PlanListFilter struct {
	ProductionLineID *int64
	Status           domain.PlanStatus
	Customer         string
}

func (f PlanListFilter) signature() string {
	return cache.Signature(map[string]string{
		"productionLineId": service.IDToken(f.ProductionLineID),
		"status":           string(f.Status),
		"customer":         f.Customer,
	})
}

// PlanWorkflow runs the production plan lifecycle. Every legal move is
// listed in the domain transition table; operations here only pick the
// operation, stamp audit fields and report what changed.
type PlanWorkflow struct {
	deps       service.Deps
	lines      *service.ProductionLineService
	brickTypes *service.BrickTypeService
	coord      *Coordinator
}

// NewPlanWorkflow creates a new PlanWorkflow.
func NewPlanWorkflow(deps service.Deps, lines *service.ProductionLineService, brickTypes *service.BrickTypeService, coord *Coordinator) *PlanWorkflow {
	return &PlanWorkflow{
		deps:       deps.WithDefaults(),
		lines:      lines,
		brickTypes: brickTypes,
		coord:      coord,
	}
}

// Create stores a new DRAFT plan after checking its references and dates.
func (w *PlanWorkflow) Create(ctx context.Context, in PlanInput, actor string) (domain.Result[domain.ProductionPlan], error) {
	code := strings.TrimSpace(in.PlanCode)
	if code == "" {
		return domain.Result[domain.ProductionPlan]{}, apperrors.ErrValidationf("planCode", "planCode is required")
	}
	if _, err := w.deps.Repos.Plans.GetByCode(ctx, code); err == nil {
		return domain.Result[domain.ProductionPlan]{}, planCodeExists(code)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return domain.Result[domain.ProductionPlan]{}, fmt.Errorf("check plan code: %w", err)
	}

	now := w.deps.Now()
	plan := domain.ProductionPlan{
		PlanCode:         code,
		ProductionLineID: in.ProductionLineID,
		BrickTypeID:      in.BrickTypeID,
		TargetQuantity:   in.TargetQuantity,
		StartDate:        in.StartDate.UTC(),
		EndDate:          in.EndDate.UTC(),
		Customer:         in.Customer,
		Notes:            in.Notes,
		Status:           domain.PlanStatusDraft,
		CreatedBy:        actor,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := w.validate(ctx, plan, true, true); err != nil {
		return domain.Result[domain.ProductionPlan]{}, err
	}

	created, err := w.deps.Repos.Plans.Create(ctx, plan)
	if err != nil {
		return domain.Result[domain.ProductionPlan]{}, planWriteError(err, code)
	}
	w.coord.PlanWritten(ctx, created.ID)

	change := domain.NewChange(domain.ActionCreateProductionPlan, domain.EntityProductionPlan, created.ID,
		fmt.Sprintf("Plan %s created", created.PlanCode)).
		Named(created.PlanCode).
		WithMeta("after", string(created.Status)).
		By(actor)
	return domain.Result[domain.ProductionPlan]{Data: created, Change: change}, nil
}

// validate checks quantities, dates and, when asked, the line and brick type
// references.
func (w *PlanWorkflow) validate(ctx context.Context, p domain.ProductionPlan, checkLine, checkBrickType bool) error {
	if p.TargetQuantity <= 0 {
		return apperrors.ErrValidationf("targetQuantity", "targetQuantity must be greater than 0")
	}
	if p.StartDate.IsZero() || p.EndDate.IsZero() {
		return apperrors.ErrValidationf("startDate", "startDate and endDate are required")
	}
	if err := p.ValidateDates(); err != nil {
		return apperrors.ErrValidationf("endDate", "%s", err.Error())
	}
	if checkBrickType {
		if _, err := w.brickTypes.EnsureExists(ctx, p.BrickTypeID); err != nil {
			return err
		}
	}
	if checkLine {
		if _, err := w.lines.EnsureActive(ctx, p.ProductionLineID); err != nil {
			return err
		}
	}
	return nil
}

// Update edits a DRAFT plan. Changed references are re-validated and the
// dates are always re-checked.
func (w *PlanWorkflow) Update(ctx context.Context, id int64, patch PlanPatch, actor string) (domain.Result[domain.ProductionPlan], error) {
	plan, err := w.load(ctx, id)
	if err != nil {
		return domain.Result[domain.ProductionPlan]{}, err
	}
	if _, err := domain.PlanOperationTarget(domain.PlanOpUpdate, plan.Status); err != nil {
		return domain.Result[domain.ProductionPlan]{}, transitionError(err, entityPlan, id)
	}

	if patch.PlanCode != nil {
		code := strings.TrimSpace(*patch.PlanCode)
		if code == "" {
			return domain.Result[domain.ProductionPlan]{}, apperrors.ErrValidationf("planCode", "planCode must not be empty")
		}
		if code != plan.PlanCode {
			other, err := w.deps.Repos.Plans.GetByCode(ctx, code)
			switch {
			case err == nil && other.ID != id:
				return domain.Result[domain.ProductionPlan]{}, planCodeExists(code)
			case err != nil && !errors.Is(err, repository.ErrNotFound):
				return domain.Result[domain.ProductionPlan]{}, fmt.Errorf("check plan code: %w", err)
			}
			plan.PlanCode = code
		}
	}
	checkLine := patch.ProductionLineID != nil
	if checkLine {
		plan.ProductionLineID = *patch.ProductionLineID
	}
	checkBrickType := patch.BrickTypeID != nil
	if checkBrickType {
		plan.BrickTypeID = *patch.BrickTypeID
	}
	if patch.TargetQuantity != nil {
		plan.TargetQuantity = *patch.TargetQuantity
	}
	if patch.StartDate != nil {
		plan.StartDate = patch.StartDate.UTC()
	}
	if patch.EndDate != nil {
		plan.EndDate = patch.EndDate.UTC()
	}
	if patch.Customer != nil {
		plan.Customer = *patch.Customer
	}
	if patch.Notes != nil {
		plan.Notes = *patch.Notes
	}
	if err := w.validate(ctx, plan, checkLine, checkBrickType); err != nil {
		return domain.Result[domain.ProductionPlan]{}, err
	}

	return w.write(ctx, plan, domain.PlanStatusDraft, domain.ActionUpdateProductionPlan,
		fmt.Sprintf("Plan %s updated", plan.PlanCode), actor)
}

// Approve moves a DRAFT plan to APPROVED and records the approver.
func (w *PlanWorkflow) Approve(ctx context.Context, id int64, actor string) (domain.Result[domain.ProductionPlan], error) {
	return w.transition(ctx, id, domain.PlanOpApprove, actor, func(p *domain.ProductionPlan, now time.Time) {
		p.ApprovedBy = actor
		p.ApprovedAt = &now
	})
}

// Reject cancels a DRAFT or APPROVED plan. A non-empty reason replaces the
// notes.
func (w *PlanWorkflow) Reject(ctx context.Context, id int64, reason, actor string) (domain.Result[domain.ProductionPlan], error) {
	return w.transition(ctx, id, domain.PlanOpReject, actor, withReason(reason))
}

// MarkInProgress starts an APPROVED plan by hand.
func (w *PlanWorkflow) MarkInProgress(ctx context.Context, id int64, actor string) (domain.Result[domain.ProductionPlan], error) {
	return w.transition(ctx, id, domain.PlanOpMarkInProgress, actor, nil)
}

// MarkCompleted closes an IN_PROGRESS plan.
func (w *PlanWorkflow) MarkCompleted(ctx context.Context, id int64, actor string) (domain.Result[domain.ProductionPlan], error) {
	return w.transition(ctx, id, domain.PlanOpMarkCompleted, actor, nil)
}

// MarkCancelled cancels any plan that is not yet closed.
func (w *PlanWorkflow) MarkCancelled(ctx context.Context, id int64, reason, actor string) (domain.Result[domain.ProductionPlan], error) {
	return w.transition(ctx, id, domain.PlanOpMarkCancelled, actor, withReason(reason))
}

func withReason(reason string) func(*domain.ProductionPlan, time.Time) {
	return func(p *domain.ProductionPlan, _ time.Time) {
		if r := strings.TrimSpace(reason); r != "" {
			p.Notes = r
		}
	}
}

var planOpActions = map[domain.PlanOperation]string{
	domain.PlanOpApprove:        domain.ActionApproveProductionPlan,
	domain.PlanOpReject:         domain.ActionCancelProductionPlan,
	domain.PlanOpMarkInProgress: domain.ActionUpdateProductionPlan,
	domain.PlanOpMarkCompleted:  domain.ActionCloseProductionPlan,
	domain.PlanOpMarkCancelled:  domain.ActionCancelProductionPlan,
}

func (w *PlanWorkflow) transition(ctx context.Context, id int64, op domain.PlanOperation, actor string, mutate func(*domain.ProductionPlan, time.Time)) (domain.Result[domain.ProductionPlan], error) {
	plan, err := w.load(ctx, id)
	if err != nil {
		return domain.Result[domain.ProductionPlan]{}, err
	}
	before := plan.Status
	target, err := domain.PlanOperationTarget(op, before)
	if err != nil {
		return domain.Result[domain.ProductionPlan]{}, transitionError(err, entityPlan, id)
	}

	plan.Status = target
	if mutate != nil {
		mutate(&plan, w.deps.Now())
	}
	return w.write(ctx, plan, before, planOpActions[op],
		fmt.Sprintf("Plan %s moved from %s to %s", plan.PlanCode, before, target), actor)
}

// write stores plan if its status is still expected. Losing that race to a
// concurrent writer is reported as an invalid transition from whatever
// status the plan has now.
func (w *PlanWorkflow) write(ctx context.Context, plan domain.ProductionPlan, expected domain.PlanStatus, action, description, actor string) (domain.Result[domain.ProductionPlan], error) {
	plan.UpdatedAt = w.deps.Now()
	attempted := plan.Status
	updated, err := w.deps.Repos.Plans.Update(ctx, plan, expected)
	if errors.Is(err, repository.ErrStale) {
		return domain.Result[domain.ProductionPlan]{}, w.staleError(ctx, plan.ID, string(attempted))
	}
	if err != nil {
		return domain.Result[domain.ProductionPlan]{}, planWriteError(err, plan.PlanCode)
	}
	w.coord.PlanWritten(ctx, updated.ID)

	change := domain.NewChange(action, domain.EntityProductionPlan, updated.ID, description).
		Named(updated.PlanCode).
		WithMeta("before", string(expected)).
		WithMeta("after", string(updated.Status)).
		By(actor)
	return domain.Result[domain.ProductionPlan]{Data: updated, Change: change}, nil
}

func (w *PlanWorkflow) staleError(ctx context.Context, id int64, attempted string) error {
	current, err := w.deps.Repos.Plans.Get(ctx, id)
	if err != nil {
		return planLookupError(err, id)
	}
	return apperrors.ErrInvalidTransitionf(entityPlan, id, string(current.Status), attempted)
}

// Remove hard-deletes a DRAFT or CANCELLED plan together with its
// assignments and their daily production rows.
func (w *PlanWorkflow) Remove(ctx context.Context, id int64, actor string) (domain.Result[domain.ProductionPlan], error) {
	plan, err := w.load(ctx, id)
	if err != nil {
		return domain.Result[domain.ProductionPlan]{}, err
	}
	if _, err := domain.PlanOperationTarget(domain.PlanOpRemove, plan.Status); err != nil {
		return domain.Result[domain.ProductionPlan]{}, transitionError(err, entityPlan, id)
	}
	assignments, err := w.deps.Repos.StageAssignments.List(ctx, repository.StageAssignmentFilter{
		ProductionPlanIDs: []int64{id},
	})
	if err != nil {
		return domain.Result[domain.ProductionPlan]{}, fmt.Errorf("list assignments: %w", err)
	}

	err = w.deps.Repos.Plans.Delete(ctx, id, domain.PlanStatusDraft, domain.PlanStatusCancelled)
	if errors.Is(err, repository.ErrStale) {
		return domain.Result[domain.ProductionPlan]{}, w.staleError(ctx, id, string(domain.PlanOpRemove))
	}
	if err != nil {
		return domain.Result[domain.ProductionPlan]{}, planLookupError(err, id)
	}

	ids := make([]int64, len(assignments))
	for i, a := range assignments {
		ids[i] = a.ID
	}
	w.coord.PlanWritten(ctx, id, ids...)

	plan.StageAssignments = assignments
	change := domain.NewChange(domain.ActionDeleteProductionPlan, domain.EntityProductionPlan, id,
		fmt.Sprintf("Plan %s deleted", plan.PlanCode)).
		Named(plan.PlanCode).
		WithMeta("before", string(plan.Status)).
		WithMeta("assignments", len(assignments)).
		By(actor)
	return domain.Result[domain.ProductionPlan]{Data: plan, Change: change}, nil
}

// Get returns a plan with its stage assignments, cached under its fixed key.
func (w *PlanWorkflow) Get(ctx context.Context, id int64) (domain.ProductionPlan, error) {
	return cache.ReadOne(ctx, w.deps.Cache, cache.ProductionPlanKey(id), w.deps.EntityTTL,
		func(ctx context.Context) (domain.ProductionPlan, error) {
			plan, err := w.load(ctx, id)
			if err != nil {
				return domain.ProductionPlan{}, err
			}
			withAssignments, err := w.attachAssignments(ctx, []domain.ProductionPlan{plan})
			if err != nil {
				return domain.ProductionPlan{}, err
			}
			return withAssignments[0], nil
		})
}

// List returns plans newest first, each with its stage assignments. Only the
// unfiltered query is cached.
func (w *PlanWorkflow) List(ctx context.Context, f PlanListFilter) ([]domain.ProductionPlan, error) {
	return cache.ReadThrough(ctx, w.deps.Cache, cache.ScopeProductionPlans, f.signature(), w.deps.ListTTL,
		func(ctx context.Context) ([]domain.ProductionPlan, error) {
			plans, err := w.deps.Repos.Plans.List(ctx, repository.PlanFilter{
				ProductionLineID: f.ProductionLineID,
				Status:           f.Status,
				Customer:         f.Customer,
			})
			if err != nil {
				return nil, fmt.Errorf("list production plans: %w", err)
			}
			return w.attachAssignments(ctx, plans)
		})
}

func (w *PlanWorkflow) load(ctx context.Context, id int64) (domain.ProductionPlan, error) {
	plan, err := w.deps.Repos.Plans.Get(ctx, id)
	if err != nil {
		return domain.ProductionPlan{}, planLookupError(err, id)
	}
	return plan, nil
}

func (w *PlanWorkflow) attachAssignments(ctx context.Context, plans []domain.ProductionPlan) ([]domain.ProductionPlan, error) {
	if len(plans) == 0 {
		return plans, nil
	}
	ids := make([]int64, len(plans))
	for i, p := range plans {
		ids[i] = p.ID
	}
	assignments, err := w.deps.Repos.StageAssignments.List(ctx, repository.StageAssignmentFilter{ProductionPlanIDs: ids})
	if err != nil {
		return nil, fmt.Errorf("list stage assignments: %w", err)
	}
	byPlan := make(map[int64][]domain.StageAssignment, len(plans))
	for _, a := range assignments {
		byPlan[a.ProductionPlanID] = append(byPlan[a.ProductionPlanID], a)
	}
	for i := range plans {
		plans[i].StageAssignments = byPlan[plans[i].ID]
	}
	return plans, nil
}

func planWriteError(err error, code string) error {
	if repository.ViolatedConstraint(err) == repository.ConstraintPlanCode {
		return planCodeExists(code)
	}
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NotFound(apperrors.CodeProductionPlanNotFound, "production plan or a referenced entity not found")
	}
	return fmt.Errorf("write production plan: %w", err)
}
