package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/VicenzaTech/psm-backend/internal/domain"
	"github.com/VicenzaTech/psm-backend/internal/repository"
)

// DeviceMappingRepo implements repository.StageDeviceMappingRepository.
type DeviceMappingRepo struct{ db DBTX }

const deviceMappingColumns = `id, production_line_id, stage, measurement_position, iot_device_id,
	iot_measurement_type_id, stage_live_status, is_active, created_at, updated_at`

func scanDeviceMapping(row pgx.Row) (domain.StageDeviceMapping, error) {
	var (
		m     domain.StageDeviceMapping
		stage string
		live  *string
	)
	err := row.Scan(&m.ID, &m.ProductionLineID, &stage, &m.MeasurementPosition, &m.IotDeviceID,
		&m.IotMeasurementTypeID, &live, &m.IsActive, &m.CreatedAt, &m.UpdatedAt)
	m.Stage = domain.Stage(stage)
	if live != nil {
		s := domain.StageStatus(*live)
		m.StageLiveStatus = &s
	}
	m.CreatedAt, m.UpdatedAt = utc(m.CreatedAt), utc(m.UpdatedAt)
	return m, err
}

func liveStatusArg(s *domain.StageStatus) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}

func (r *DeviceMappingRepo) Create(ctx context.Context, m domain.StageDeviceMapping) (domain.StageDeviceMapping, error) {
	out, err := scanDeviceMapping(r.db.QueryRow(ctx, `
		INSERT INTO stage_device_mappings (production_line_id, stage, measurement_position, iot_device_id,
			iot_measurement_type_id, stage_live_status, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+deviceMappingColumns,
		m.ProductionLineID, string(m.Stage), m.MeasurementPosition, m.IotDeviceID,
		m.IotMeasurementTypeID, liveStatusArg(m.StageLiveStatus), m.IsActive, m.CreatedAt, m.UpdatedAt))
	return out, mapError(err)
}

func (r *DeviceMappingRepo) Get(ctx context.Context, id int64) (domain.StageDeviceMapping, error) {
	out, err := scanDeviceMapping(r.db.QueryRow(ctx,
		`SELECT `+deviceMappingColumns+` FROM stage_device_mappings WHERE id = $1`, id))
	return out, mapError(err)
}

func (r *DeviceMappingRepo) List(ctx context.Context, f repository.DeviceMappingFilter) ([]domain.StageDeviceMapping, error) {
	var w where
	if f.ProductionLineID != nil {
		w.add("production_line_id = $%d", *f.ProductionLineID)
	}
	if f.IsActive != nil {
		w.add("is_active = $%d", *f.IsActive)
	}
	rows, err := r.db.Query(ctx, `SELECT `+deviceMappingColumns+` FROM stage_device_mappings`+w.String()+` ORDER BY id`, w.args...)
	return collect(rows, err, scanDeviceMapping)
}

func (r *DeviceMappingRepo) Update(ctx context.Context, m domain.StageDeviceMapping, expectedActive bool) (domain.StageDeviceMapping, error) {
	out, err := scanDeviceMapping(r.db.QueryRow(ctx, `
		UPDATE stage_device_mappings SET
			production_line_id = $3, stage = $4, measurement_position = $5, iot_device_id = $6,
			iot_measurement_type_id = $7, stage_live_status = $8, is_active = $9, updated_at = $10
		WHERE id = $1 AND is_active = $2
		RETURNING `+deviceMappingColumns,
		m.ID, expectedActive,
		m.ProductionLineID, string(m.Stage), m.MeasurementPosition, m.IotDeviceID,
		m.IotMeasurementTypeID, liveStatusArg(m.StageLiveStatus), m.IsActive, m.UpdatedAt))
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM stage_device_mappings WHERE id = $1)`, m.ID).Scan(&exists); err != nil {
			return domain.StageDeviceMapping{}, mapError(err)
		}
		if !exists {
			return domain.StageDeviceMapping{}, repository.ErrNotFound
		}
		return domain.StageDeviceMapping{}, repository.ErrStale
	}
	return out, mapError(err)
}
