package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/VicenzaTech/psm-backend/internal/domain"
	"github.com/VicenzaTech/psm-backend/internal/repository"
)

// StageAssignmentRepo implements repository.StageAssignmentRepository.
// Global stage exclusivity is enforced by stage_assignments_active_stage_key.
type StageAssignmentRepo struct{ db DBTX }

const assignmentColumns = `id, production_plan_id, production_line_id, brick_type_id, stage, status, is_active,
	target_quantity, start_time, end_time, notes, created_by, created_at, updated_at`

func scanAssignment(row pgx.Row) (domain.StageAssignment, error) {
	var (
		a             domain.StageAssignment
		stage, status string
	)
	err := row.Scan(&a.ID, &a.ProductionPlanID, &a.ProductionLineID, &a.BrickTypeID, &stage, &status,
		&a.IsActive, &a.TargetQuantity, &a.StartTime, &a.EndTime, &a.Notes, &a.CreatedBy,
		&a.CreatedAt, &a.UpdatedAt)
	a.Stage, a.Status = domain.Stage(stage), domain.StageStatus(status)
	a.StartTime, a.EndTime = utcPtr(a.StartTime), utcPtr(a.EndTime)
	a.CreatedAt, a.UpdatedAt = utc(a.CreatedAt), utc(a.UpdatedAt)
	return a, err
}

func (r *StageAssignmentRepo) Create(ctx context.Context, a domain.StageAssignment) (domain.StageAssignment, error) {
	out, err := scanAssignment(r.db.QueryRow(ctx, `
		INSERT INTO stage_assignments (production_plan_id, production_line_id, brick_type_id, stage, status,
			is_active, target_quantity, start_time, end_time, notes, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING `+assignmentColumns,
		a.ProductionPlanID, a.ProductionLineID, a.BrickTypeID, string(a.Stage), string(a.Status),
		a.IsActive, a.TargetQuantity, a.StartTime, a.EndTime, a.Notes, a.CreatedBy, a.CreatedAt, a.UpdatedAt))
	return out, mapError(err)
}

func (r *StageAssignmentRepo) Get(ctx context.Context, id int64) (domain.StageAssignment, error) {
	out, err := scanAssignment(r.db.QueryRow(ctx, `SELECT `+assignmentColumns+` FROM stage_assignments WHERE id = $1`, id))
	return out, mapError(err)
}

func (r *StageAssignmentRepo) List(ctx context.Context, f repository.StageAssignmentFilter) ([]domain.StageAssignment, error) {
	var w where
	if f.ProductionPlanIDs != nil {
		w.add("production_plan_id = ANY($%d)", f.ProductionPlanIDs)
	}
	if f.ProductionLineID != nil {
		w.add("production_line_id = $%d", *f.ProductionLineID)
	}
	rows, err := r.db.Query(ctx, `SELECT `+assignmentColumns+` FROM stage_assignments`+w.String()+` ORDER BY id`, w.args...)
	return collect(rows, err, scanAssignment)
}

func (r *StageAssignmentRepo) FindActiveByStage(ctx context.Context, stage domain.Stage) (domain.StageAssignment, error) {
	out, err := scanAssignment(r.db.QueryRow(ctx,
		`SELECT `+assignmentColumns+` FROM stage_assignments WHERE stage = $1 AND is_active`, string(stage)))
	return out, mapError(err)
}

func (r *StageAssignmentRepo) Update(ctx context.Context, a domain.StageAssignment, expected repository.AssignmentState) (domain.StageAssignment, error) {
	out, err := scanAssignment(r.db.QueryRow(ctx, `
		UPDATE stage_assignments SET
			status = $4, is_active = $5, target_quantity = $6, start_time = $7, end_time = $8,
			notes = $9, updated_at = $10
		WHERE id = $1 AND status = $2 AND is_active = $3
		RETURNING `+assignmentColumns,
		a.ID, string(expected.Status), expected.IsActive,
		string(a.Status), a.IsActive, a.TargetQuantity, a.StartTime, a.EndTime, a.Notes, a.UpdatedAt))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.StageAssignment{}, r.missOrStale(ctx, a.ID)
	}
	return out, mapError(err)
}

func (r *StageAssignmentRepo) missOrStale(ctx context.Context, id int64) error {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM stage_assignments WHERE id = $1)`, id).Scan(&exists); err != nil {
		return mapError(err)
	}
	if !exists {
		return repository.ErrNotFound
	}
	return repository.ErrStale
}
