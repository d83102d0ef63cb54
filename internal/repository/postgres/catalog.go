package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/VicenzaTech/psm-backend/internal/domain"
	"github.com/VicenzaTech/psm-backend/internal/repository"
)

// WorkshopRepo implements repository.WorkshopRepository.
type WorkshopRepo struct{ db DBTX }

const workshopColumns = `id, code, name, description, is_active, created_at, updated_at`

func scanWorkshop(row pgx.Row) (domain.Workshop, error) {
	var w domain.Workshop
	err := row.Scan(&w.ID, &w.Code, &w.Name, &w.Description, &w.IsActive, &w.CreatedAt, &w.UpdatedAt)
	w.CreatedAt, w.UpdatedAt = utc(w.CreatedAt), utc(w.UpdatedAt)
	return w, err
}

func (r *WorkshopRepo) Create(ctx context.Context, w domain.Workshop) (domain.Workshop, error) {
	out, err := scanWorkshop(r.db.QueryRow(ctx, `
		INSERT INTO workshops (code, name, description, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+workshopColumns,
		w.Code, w.Name, w.Description, w.IsActive, w.CreatedAt, w.UpdatedAt))
	return out, mapError(err)
}

func (r *WorkshopRepo) Get(ctx context.Context, id int64) (domain.Workshop, error) {
	out, err := scanWorkshop(r.db.QueryRow(ctx, `SELECT `+workshopColumns+` FROM workshops WHERE id = $1`, id))
	return out, mapError(err)
}

func (r *WorkshopRepo) List(ctx context.Context, f repository.WorkshopFilter) ([]domain.Workshop, error) {
	var w where
	if f.IsActive != nil {
		w.add("is_active = $%d", *f.IsActive)
	}
	rows, err := r.db.Query(ctx, `SELECT `+workshopColumns+` FROM workshops`+w.String()+` ORDER BY id`, w.args...)
	return collect(rows, err, scanWorkshop)
}

func (r *WorkshopRepo) Update(ctx context.Context, w domain.Workshop) (domain.Workshop, error) {
	out, err := scanWorkshop(r.db.QueryRow(ctx, `
		UPDATE workshops SET code = $2, name = $3, description = $4, is_active = $5, updated_at = $6
		WHERE id = $1
		RETURNING `+workshopColumns,
		w.ID, w.Code, w.Name, w.Description, w.IsActive, w.UpdatedAt))
	return out, mapError(err)
}

// ProductionLineRepo implements repository.ProductionLineRepository.
type ProductionLineRepo struct{ db DBTX }

const lineColumns = `id, workshop_id, code, name, description, is_active, created_at, updated_at`

func scanLine(row pgx.Row) (domain.ProductionLine, error) {
	var l domain.ProductionLine
	err := row.Scan(&l.ID, &l.WorkshopID, &l.Code, &l.Name, &l.Description, &l.IsActive, &l.CreatedAt, &l.UpdatedAt)
	l.CreatedAt, l.UpdatedAt = utc(l.CreatedAt), utc(l.UpdatedAt)
	return l, err
}

func (r *ProductionLineRepo) Create(ctx context.Context, l domain.ProductionLine) (domain.ProductionLine, error) {
	out, err := scanLine(r.db.QueryRow(ctx, `
		INSERT INTO production_lines (workshop_id, code, name, description, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+lineColumns,
		l.WorkshopID, l.Code, l.Name, l.Description, l.IsActive, l.CreatedAt, l.UpdatedAt))
	return out, mapError(err)
}

func (r *ProductionLineRepo) Get(ctx context.Context, id int64) (domain.ProductionLine, error) {
	out, err := scanLine(r.db.QueryRow(ctx, `SELECT `+lineColumns+` FROM production_lines WHERE id = $1`, id))
	return out, mapError(err)
}

func (r *ProductionLineRepo) List(ctx context.Context, f repository.ProductionLineFilter) ([]domain.ProductionLine, error) {
	var w where
	if f.WorkshopID != nil {
		w.add("workshop_id = $%d", *f.WorkshopID)
	}
	if f.IsActive != nil {
		w.add("is_active = $%d", *f.IsActive)
	}
	rows, err := r.db.Query(ctx, `SELECT `+lineColumns+` FROM production_lines`+w.String()+` ORDER BY id`, w.args...)
	return collect(rows, err, scanLine)
}

func (r *ProductionLineRepo) Update(ctx context.Context, l domain.ProductionLine) (domain.ProductionLine, error) {
	out, err := scanLine(r.db.QueryRow(ctx, `
		UPDATE production_lines
		SET workshop_id = $2, code = $3, name = $4, description = $5, is_active = $6, updated_at = $7
		WHERE id = $1
		RETURNING `+lineColumns,
		l.ID, l.WorkshopID, l.Code, l.Name, l.Description, l.IsActive, l.UpdatedAt))
	return out, mapError(err)
}

// BrickTypeRepo implements repository.BrickTypeRepository.
type BrickTypeRepo struct{ db DBTX }

const brickTypeColumns = `id, code, name, type, description, is_active, created_at, updated_at`

func scanBrickType(row pgx.Row) (domain.BrickType, error) {
	var b domain.BrickType
	err := row.Scan(&b.ID, &b.Code, &b.Name, &b.Type, &b.Description, &b.IsActive, &b.CreatedAt, &b.UpdatedAt)
	b.CreatedAt, b.UpdatedAt = utc(b.CreatedAt), utc(b.UpdatedAt)
	return b, err
}

func (r *BrickTypeRepo) Create(ctx context.Context, b domain.BrickType) (domain.BrickType, error) {
	out, err := scanBrickType(r.db.QueryRow(ctx, `
		INSERT INTO brick_types (code, name, type, description, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+brickTypeColumns,
		b.Code, b.Name, b.Type, b.Description, b.IsActive, b.CreatedAt, b.UpdatedAt))
	return out, mapError(err)
}

func (r *BrickTypeRepo) Get(ctx context.Context, id int64) (domain.BrickType, error) {
	out, err := scanBrickType(r.db.QueryRow(ctx, `SELECT `+brickTypeColumns+` FROM brick_types WHERE id = $1`, id))
	return out, mapError(err)
}

func (r *BrickTypeRepo) List(ctx context.Context, f repository.BrickTypeFilter) ([]domain.BrickType, error) {
	var w where
	if f.Type != "" {
		w.add("type = $%d", f.Type)
	}
	if f.IsActive != nil {
		w.add("is_active = $%d", *f.IsActive)
	}
	rows, err := r.db.Query(ctx, `SELECT `+brickTypeColumns+` FROM brick_types`+w.String()+` ORDER BY id`, w.args...)
	return collect(rows, err, scanBrickType)
}

func (r *BrickTypeRepo) Update(ctx context.Context, b domain.BrickType) (domain.BrickType, error) {
	out, err := scanBrickType(r.db.QueryRow(ctx, `
		UPDATE brick_types SET code = $2, name = $3, type = $4, description = $5, is_active = $6, updated_at = $7
		WHERE id = $1
		RETURNING `+brickTypeColumns,
		b.ID, b.Code, b.Name, b.Type, b.Description, b.IsActive, b.UpdatedAt))
	return out, mapError(err)
}
