package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/VicenzaTech/psm-backend/internal/domain"
	"github.com/VicenzaTech/psm-backend/internal/repository"
)

// PlanRepo implements repository.ProductionPlanRepository.
type PlanRepo struct{ db DBTX }

const planColumns = `id, plan_code, production_line_id, brick_type_id, target_quantity, start_date, end_date,
	customer, notes, status, created_by, approved_by, approved_at, created_at, updated_at`

func scanPlan(row pgx.Row) (domain.ProductionPlan, error) {
	var (
		p      domain.ProductionPlan
		status string
	)
	err := row.Scan(&p.ID, &p.PlanCode, &p.ProductionLineID, &p.BrickTypeID, &p.TargetQuantity,
		&p.StartDate, &p.EndDate, &p.Customer, &p.Notes, &status, &p.CreatedBy, &p.ApprovedBy,
		&p.ApprovedAt, &p.CreatedAt, &p.UpdatedAt)
	p.Status = domain.PlanStatus(status)
	p.StartDate, p.EndDate = utc(p.StartDate), utc(p.EndDate)
	p.CreatedAt, p.UpdatedAt = utc(p.CreatedAt), utc(p.UpdatedAt)
	p.ApprovedAt = utcPtr(p.ApprovedAt)
	return p, err
}

func (r *PlanRepo) Create(ctx context.Context, p domain.ProductionPlan) (domain.ProductionPlan, error) {
	out, err := scanPlan(r.db.QueryRow(ctx, `
		INSERT INTO production_plans (plan_code, production_line_id, brick_type_id, target_quantity,
			start_date, end_date, customer, notes, status, created_by, approved_by, approved_at,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING `+planColumns,
		p.PlanCode, p.ProductionLineID, p.BrickTypeID, p.TargetQuantity, p.StartDate, p.EndDate,
		p.Customer, p.Notes, string(p.Status), p.CreatedBy, p.ApprovedBy, p.ApprovedAt,
		p.CreatedAt, p.UpdatedAt))
	return out, mapError(err)
}

func (r *PlanRepo) Get(ctx context.Context, id int64) (domain.ProductionPlan, error) {
	out, err := scanPlan(r.db.QueryRow(ctx, `SELECT `+planColumns+` FROM production_plans WHERE id = $1`, id))
	return out, mapError(err)
}

func (r *PlanRepo) GetByCode(ctx context.Context, code string) (domain.ProductionPlan, error) {
	out, err := scanPlan(r.db.QueryRow(ctx, `SELECT `+planColumns+` FROM production_plans WHERE plan_code = $1`, code))
	return out, mapError(err)
}

func (r *PlanRepo) List(ctx context.Context, f repository.PlanFilter) ([]domain.ProductionPlan, error) {
	var w where
	if f.ProductionLineID != nil {
		w.add("production_line_id = $%d", *f.ProductionLineID)
	}
	if f.Status != "" {
		w.add("status = $%d", string(f.Status))
	}
	if f.Customer != "" {
		w.add("customer = $%d", f.Customer)
	}
	rows, err := r.db.Query(ctx, `SELECT `+planColumns+` FROM production_plans`+w.String()+` ORDER BY id DESC`, w.args...)
	return collect(rows, err, scanPlan)
}

func (r *PlanRepo) Update(ctx context.Context, p domain.ProductionPlan, expected domain.PlanStatus) (domain.ProductionPlan, error) {
	out, err := scanPlan(r.db.QueryRow(ctx, `
		UPDATE production_plans SET
			plan_code = $3, production_line_id = $4, brick_type_id = $5, target_quantity = $6,
			start_date = $7, end_date = $8, customer = $9, notes = $10, status = $11,
			approved_by = $12, approved_at = $13, updated_at = $14
		WHERE id = $1 AND status = $2
		RETURNING `+planColumns,
		p.ID, string(expected), p.PlanCode, p.ProductionLineID, p.BrickTypeID, p.TargetQuantity,
		p.StartDate, p.EndDate, p.Customer, p.Notes, string(p.Status), p.ApprovedBy, p.ApprovedAt,
		p.UpdatedAt))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ProductionPlan{}, r.missOrStale(ctx, p.ID)
	}
	return out, mapError(err)
}

func (r *PlanRepo) Delete(ctx context.Context, id int64, allowed ...domain.PlanStatus) error {
	statuses := make([]string, len(allowed))
	for i, s := range allowed {
		statuses[i] = string(s)
	}
	tag, err := r.db.Exec(ctx, `DELETE FROM production_plans WHERE id = $1 AND status = ANY($2)`, id, statuses)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return r.missOrStale(ctx, id)
	}
	return nil
}

// missOrStale distinguishes a missing row from a failed precondition.
func (r *PlanRepo) missOrStale(ctx context.Context, id int64) error {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM production_plans WHERE id = $1)`, id).Scan(&exists); err != nil {
		return mapError(err)
	}
	if !exists {
		return repository.ErrNotFound
	}
	return repository.ErrStale
}
