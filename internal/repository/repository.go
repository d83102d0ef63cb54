// Package repository defines per-aggregate persistence contracts.
//
// Each call is atomic on its own. Cross-aggregate invariants that a single
// row cannot express are enforced by storage constraints (see the
// Constraint* names) and surfaced as *UniqueViolationError.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/VicenzaTech/psm-backend/internal/domain"
)

var (
	// ErrNotFound is returned when the addressed row does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrUniqueViolation matches every *UniqueViolationError via errors.Is.
	ErrUniqueViolation = errors.New("repository: unique violation")
	// ErrStale is returned by conditional writes whose precondition no longer
	// holds, e.g. a plan update expecting a status the row no longer has.
	ErrStale = errors.New("repository: stale write")
)

// Storage constraint names, shared by the PostgreSQL schema and the
// in-memory store.
const (
	ConstraintWorkshopCode       = "workshops_code_key"
	ConstraintProductionLineCode = "production_lines_workshop_code_key"
	ConstraintBrickTypeCode      = "brick_types_code_key"
	ConstraintPlanCode           = "production_plans_plan_code_key"
	ConstraintActiveStage        = "stage_assignments_active_stage_key"
	ConstraintDailyProduction    = "daily_stage_productions_assignment_day_shift_key"
	ConstraintActiveDevice       = "stage_device_mappings_active_device_key"
	ConstraintActiveLineStage    = "stage_device_mappings_active_line_stage_key"
)

// UniqueViolationError reports which unique constraint rejected a write.
type UniqueViolationError struct {
	Constraint string
	Err        error
}

func (e *UniqueViolationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unique constraint %s violated: %v", e.Constraint, e.Err)
	}
	return fmt.Sprintf("unique constraint %s violated", e.Constraint)
}

func (e *UniqueViolationError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrUniqueViolation) hold.
func (e *UniqueViolationError) Is(target error) bool { return target == ErrUniqueViolation }

// ViolatedConstraint returns the constraint name when err is a unique
// violation, or "".
func ViolatedConstraint(err error) string {
	var uv *UniqueViolationError
	if errors.As(err, &uv) {
		return uv.Constraint
	}
	return ""
}

// WorkshopFilter narrows Workshop lists. Nil fields do not filter.
type WorkshopFilter struct {
	IsActive *bool
}

// ProductionLineFilter narrows ProductionLine lists.
type ProductionLineFilter struct {
	WorkshopID *int64
	IsActive   *bool
}

// BrickTypeFilter narrows BrickType lists.
type BrickTypeFilter struct {
	Type     string
	IsActive *bool
}

// PlanFilter narrows ProductionPlan lists.
type PlanFilter struct {
	ProductionLineID *int64
	Status           domain.PlanStatus
	Customer         string
}

// StageAssignmentFilter narrows StageAssignment lists.
type StageAssignmentFilter struct {
	ProductionPlanIDs []int64
	ProductionLineID  *int64
}

// DailyProductionFilter narrows DailyStageProduction lists.
type DailyProductionFilter struct {
	StageAssignmentID *int64
	ProductionDate    *time.Time
	Shift             *domain.Shift
}

// DeviceMappingFilter narrows StageDeviceMapping lists.
type DeviceMappingFilter struct {
	ProductionLineID *int64
	IsActive         *bool
}

// WorkshopRepository persists workshops. Lists are ordered by id.
type WorkshopRepository interface {
	Create(ctx context.Context, w domain.Workshop) (domain.Workshop, error)
	Get(ctx context.Context, id int64) (domain.Workshop, error)
	List(ctx context.Context, f WorkshopFilter) ([]domain.Workshop, error)
	Update(ctx context.Context, w domain.Workshop) (domain.Workshop, error)
}

// ProductionLineRepository persists production lines. Lists are ordered by id.
type ProductionLineRepository interface {
	Create(ctx context.Context, l domain.ProductionLine) (domain.ProductionLine, error)
	Get(ctx context.Context, id int64) (domain.ProductionLine, error)
	List(ctx context.Context, f ProductionLineFilter) ([]domain.ProductionLine, error)
	Update(ctx context.Context, l domain.ProductionLine) (domain.ProductionLine, error)
}

// BrickTypeRepository persists brick types. Lists are ordered by id.
type BrickTypeRepository interface {
	Create(ctx context.Context, b domain.BrickType) (domain.BrickType, error)
	Get(ctx context.Context, id int64) (domain.BrickType, error)
	List(ctx context.Context, f BrickTypeFilter) ([]domain.BrickType, error)
	Update(ctx context.Context, b domain.BrickType) (domain.BrickType, error)
}

// ProductionPlanRepository persists plans without their assignments.
// Lists are ordered by id descending.
type ProductionPlanRepository interface {
	Create(ctx context.Context, p domain.ProductionPlan) (domain.ProductionPlan, error)
	Get(ctx context.Context, id int64) (domain.ProductionPlan, error)
	GetByCode(ctx context.Context, code string) (domain.ProductionPlan, error)
	List(ctx context.Context, f PlanFilter) ([]domain.ProductionPlan, error)
	// Update writes p only if the stored status still equals expected;
	// otherwise it returns ErrStale.
	Update(ctx context.Context, p domain.ProductionPlan, expected domain.PlanStatus) (domain.ProductionPlan, error)
	// Delete removes the plan and its assignments if its status is one of
	// allowed; otherwise it returns ErrStale.
	Delete(ctx context.Context, id int64, allowed ...domain.PlanStatus) error
}

// AssignmentState is the part of a stored assignment a conditional write
// checks before overwriting it.
type AssignmentState struct {
	Status   domain.StageStatus
	IsActive bool
}

// StateOf returns the state a later write of a must still find.
func StateOf(a domain.StageAssignment) AssignmentState {
	return AssignmentState{Status: a.Status, IsActive: a.IsActive}
}

// StageAssignmentRepository persists stage assignments. Lists are ordered by
// id ascending. Create and Update reject a second active row for a stage with
// a violation of ConstraintActiveStage.
type StageAssignmentRepository interface {
	Create(ctx context.Context, a domain.StageAssignment) (domain.StageAssignment, error)
	Get(ctx context.Context, id int64) (domain.StageAssignment, error)
	List(ctx context.Context, f StageAssignmentFilter) ([]domain.StageAssignment, error)
	FindActiveByStage(ctx context.Context, stage domain.Stage) (domain.StageAssignment, error)
	// Update writes a only if the stored status and active flag still equal
	// expected; otherwise it returns ErrStale.
	Update(ctx context.Context, a domain.StageAssignment, expected AssignmentState) (domain.StageAssignment, error)
}

// DailyProductionRepository persists daily stage production rows.
// Lists are ordered by production date descending, then id.
type DailyProductionRepository interface {
	// Upsert inserts d or, when a row for the same assignment, day and shift
	// exists, overwrites its figures. inserted reports which happened.
	Upsert(ctx context.Context, d domain.DailyStageProduction) (rec domain.DailyStageProduction, inserted bool, err error)
	Get(ctx context.Context, id int64) (domain.DailyStageProduction, error)
	Find(ctx context.Context, assignmentID int64, day time.Time, shift domain.Shift) (domain.DailyStageProduction, error)
	List(ctx context.Context, f DailyProductionFilter) ([]domain.DailyStageProduction, error)
	Update(ctx context.Context, d domain.DailyStageProduction) (domain.DailyStageProduction, error)
}

// StageDeviceMappingRepository persists device mappings. Lists are ordered by
// id ascending. Create and Update reject a second active mapping for a device
// (ConstraintActiveDevice) or for a line and stage (ConstraintActiveLineStage).
type StageDeviceMappingRepository interface {
	Create(ctx context.Context, m domain.StageDeviceMapping) (domain.StageDeviceMapping, error)
	Get(ctx context.Context, id int64) (domain.StageDeviceMapping, error)
	List(ctx context.Context, f DeviceMappingFilter) ([]domain.StageDeviceMapping, error)
	// Update writes m only if the stored active flag still equals
	// expectedActive; otherwise it returns ErrStale.
	Update(ctx context.Context, m domain.StageDeviceMapping, expectedActive bool) (domain.StageDeviceMapping, error)
}

// Repositories bundles one implementation of every repository.
type Repositories struct {
	Workshops        WorkshopRepository
	ProductionLines  ProductionLineRepository
	BrickTypes       BrickTypeRepository
	Plans            ProductionPlanRepository
	StageAssignments StageAssignmentRepository
	DailyProductions DailyProductionRepository
	DeviceMappings   StageDeviceMappingRepository
}
