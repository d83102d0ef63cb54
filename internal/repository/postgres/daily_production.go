package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/VicenzaTech/psm-backend/internal/domain"
	"github.com/VicenzaTech/psm-backend/internal/repository"
)

// DailyProductionRepo implements repository.DailyProductionRepository.
type DailyProductionRepo struct{ db DBTX }

const dailyColumns = `id, stage_assignment_id, production_date, shift, start_counter, end_counter,
	actual_quantity, waste_quantity, data_source, recorded_by, notes, created_at, updated_at`

func scanDaily(row pgx.Row) (domain.DailyStageProduction, error) {
	var (
		d                 domain.DailyStageProduction
		shift, dataSource string
	)
	err := row.Scan(&d.ID, &d.StageAssignmentID, &d.ProductionDate, &shift, &d.StartCounter, &d.EndCounter,
		&d.ActualQuantity, &d.WasteQuantity, &dataSource, &d.RecordedBy, &d.Notes, &d.CreatedAt, &d.UpdatedAt)
	d.Shift, d.DataSource = domain.Shift(shift), domain.DataSource(dataSource)
	d.ProductionDate = domain.ProductionDay(d.ProductionDate)
	d.CreatedAt, d.UpdatedAt = utc(d.CreatedAt), utc(d.UpdatedAt)
	return d, err
}

// Upsert relies on xmax = 0 holding only for freshly inserted rows.
func (r *DailyProductionRepo) Upsert(ctx context.Context, d domain.DailyStageProduction) (domain.DailyStageProduction, bool, error) {
	var (
		out      domain.DailyStageProduction
		inserted bool
	)
	row := r.db.QueryRow(ctx, `
		INSERT INTO daily_stage_productions (stage_assignment_id, production_date, shift, start_counter,
			end_counter, actual_quantity, waste_quantity, data_source, recorded_by, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (stage_assignment_id, production_date, shift) DO UPDATE SET
			start_counter = EXCLUDED.start_counter,
			end_counter = EXCLUDED.end_counter,
			actual_quantity = EXCLUDED.actual_quantity,
			waste_quantity = EXCLUDED.waste_quantity,
			data_source = EXCLUDED.data_source,
			recorded_by = EXCLUDED.recorded_by,
			notes = EXCLUDED.notes,
			updated_at = EXCLUDED.updated_at
		RETURNING `+dailyColumns+`, (xmax = 0) AS inserted`,
		d.StageAssignmentID, domain.ProductionDay(d.ProductionDate), string(d.Shift), d.StartCounter, d.EndCounter,
		d.ActualQuantity, d.WasteQuantity, string(d.DataSource), d.RecordedBy, d.Notes, d.CreatedAt, d.UpdatedAt)

	var shift, dataSource string
	err := row.Scan(&out.ID, &out.StageAssignmentID, &out.ProductionDate, &shift, &out.StartCounter,
		&out.EndCounter, &out.ActualQuantity, &out.WasteQuantity, &dataSource, &out.RecordedBy, &out.Notes,
		&out.CreatedAt, &out.UpdatedAt, &inserted)
	if err != nil {
		return domain.DailyStageProduction{}, false, mapError(err)
	}
	out.Shift, out.DataSource = domain.Shift(shift), domain.DataSource(dataSource)
	out.ProductionDate = domain.ProductionDay(out.ProductionDate)
	out.CreatedAt, out.UpdatedAt = utc(out.CreatedAt), utc(out.UpdatedAt)
	return out, inserted, nil
}

func (r *DailyProductionRepo) Get(ctx context.Context, id int64) (domain.DailyStageProduction, error) {
	out, err := scanDaily(r.db.QueryRow(ctx, `SELECT `+dailyColumns+` FROM daily_stage_productions WHERE id = $1`, id))
	return out, mapError(err)
}

func (r *DailyProductionRepo) Find(ctx context.Context, assignmentID int64, day time.Time, shift domain.Shift) (domain.DailyStageProduction, error) {
	out, err := scanDaily(r.db.QueryRow(ctx, `
		SELECT `+dailyColumns+` FROM daily_stage_productions
		WHERE stage_assignment_id = $1 AND production_date = $2 AND shift = $3`,
		assignmentID, domain.ProductionDay(day), string(shift)))
	return out, mapError(err)
}

func (r *DailyProductionRepo) List(ctx context.Context, f repository.DailyProductionFilter) ([]domain.DailyStageProduction, error) {
	var w where
	if f.StageAssignmentID != nil {
		w.add("stage_assignment_id = $%d", *f.StageAssignmentID)
	}
	if f.ProductionDate != nil {
		w.add("production_date = $%d", domain.ProductionDay(*f.ProductionDate))
	}
	if f.Shift != nil {
		w.add("shift = $%d", string(*f.Shift))
	}
	rows, err := r.db.Query(ctx, `SELECT `+dailyColumns+` FROM daily_stage_productions`+w.String()+
		` ORDER BY production_date DESC, id`, w.args...)
	return collect(rows, err, scanDaily)
}

func (r *DailyProductionRepo) Update(ctx context.Context, d domain.DailyStageProduction) (domain.DailyStageProduction, error) {
	out, err := scanDaily(r.db.QueryRow(ctx, `
		UPDATE daily_stage_productions SET
			start_counter = $2, end_counter = $3, actual_quantity = $4, waste_quantity = $5,
			data_source = $6, recorded_by = $7, notes = $8, updated_at = $9
		WHERE id = $1
		RETURNING `+dailyColumns,
		d.ID, d.StartCounter, d.EndCounter, d.ActualQuantity, d.WasteQuantity, string(d.DataSource),
		d.RecordedBy, d.Notes, d.UpdatedAt))
	return out, mapError(err)
}
