// Package workflow holds the production plan and stage assignment state
// machines and the coordinator that runs after each of their writes.
//
// Reads go through the cache-aside layer. Writes go straight to the
// repositories, then the Coordinator recomputes dependent plan state and
// bumps every cache scope the write could have changed.
package workflow

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/VicenzaTech/psm-backend/internal/cache"
	"github.com/VicenzaTech/psm-backend/internal/domain"
	"github.com/VicenzaTech/psm-backend/internal/pkg/logger"
	"github.com/VicenzaTech/psm-backend/internal/repository"
	"github.com/VicenzaTech/psm-backend/internal/service"
)

// Coordinator keeps derived plan state and the cache in step with writes.
type Coordinator struct {
	deps service.Deps
}

// NewCoordinator creates a new Coordinator.
func NewCoordinator(deps service.Deps) *Coordinator {
	return &Coordinator{deps: deps.WithDefaults()}
}

// PlanWritten runs after a plan row changed or was deleted. assignmentIDs
// lists assignments removed with it.
func (c *Coordinator) PlanWritten(ctx context.Context, planID int64, assignmentIDs ...int64) {
	keys := []string{cache.ProductionPlanKey(planID)}
	for _, id := range assignmentIDs {
		keys = append(keys, cache.StageAssignmentKey(id))
	}
	c.deps.Cache.Forget(ctx, keys...)

	scopes := []string{cache.ScopeProductionPlans}
	if len(assignmentIDs) > 0 {
		scopes = append(scopes, cache.ScopeStageAssignments)
	}
	c.deps.Cache.Invalidate(ctx, scopes...)
}

// AssignmentWritten runs after a stage assignment changed. It recomputes the
// owning plan's status and returns the change records of anything that moved
// as a consequence. The cache is invalidated even when recomputation fails.
func (c *Coordinator) AssignmentWritten(ctx context.Context, a domain.StageAssignment) ([]domain.ChangeRecord, error) {
	var related []domain.ChangeRecord
	change, err := c.RecomputePlan(ctx, a.ProductionPlanID)
	if change != nil {
		related = append(related, *change)
	}

	c.deps.Cache.Forget(ctx,
		cache.StageAssignmentKey(a.ID),
		cache.ProductionPlanKey(a.ProductionPlanID),
	)
	c.deps.Cache.Invalidate(ctx, cache.ScopeStageAssignments, cache.ScopeProductionPlans)

	if err != nil {
		return related, fmt.Errorf("recompute plan %d: %w", a.ProductionPlanID, err)
	}
	return related, nil
}

// RecomputePlan advances an APPROVED plan to IN_PROGRESS once any of its
// active assignments is RUNNING. Nothing else is derived: completion and
// cancellation are always operator actions, and a plan never falls back out
// of IN_PROGRESS on its own.
//
// The write is conditional on the plan still being APPROVED, so a concurrent
// operator transition wins and recomputation becomes a no-op.
func (c *Coordinator) RecomputePlan(ctx context.Context, planID int64) (*domain.ChangeRecord, error) {
	plan, err := c.deps.Repos.Plans.Get(ctx, planID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}
	if plan.Status != domain.PlanStatusApproved {
		return nil, nil
	}

	assignments, err := c.deps.Repos.StageAssignments.List(ctx, repository.StageAssignmentFilter{
		ProductionPlanIDs: []int64{planID},
	})
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	if !domain.HasRunningStage(assignments) {
		return nil, nil
	}

	before := plan.Status
	target, err := domain.PlanOperationTarget(domain.PlanOpAutoAdvance, before)
	if err != nil {
		return nil, err
	}
	plan.Status = target
	plan.UpdatedAt = c.deps.Now()

	updated, err := c.deps.Repos.Plans.Update(ctx, plan, before)
	switch {
	case errors.Is(err, repository.ErrStale), errors.Is(err, repository.ErrNotFound):
		logger.Debug("plan moved concurrently, skipping auto-advance",
			zap.Int64("plan_id", planID),
		)
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("advance plan: %w", err)
	}

	logger.Info("plan auto-advanced",
		zap.Int64("plan_id", planID),
		zap.String("plan_code", updated.PlanCode),
		zap.String("from", string(before)),
		zap.String("to", string(updated.Status)),
	)
	change := domain.NewChange(domain.ActionUpdateProductionPlan, domain.EntityProductionPlan, updated.ID,
		fmt.Sprintf("Plan %s moved to %s because a stage started running", updated.PlanCode, updated.Status)).
		Named(updated.PlanCode).
		WithMeta("before", string(before)).
		WithMeta("after", string(updated.Status))
	change.Source = domain.SourceSystem
	return &change, nil
}
