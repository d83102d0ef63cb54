package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/VicenzaTech/psm-backend/internal/cache"
	"github.com/VicenzaTech/psm-backend/internal/device"
	"github.com/VicenzaTech/psm-backend/internal/domain"
	apperrors "github.com/VicenzaTech/psm-backend/internal/pkg/errors"
	"github.com/VicenzaTech/psm-backend/internal/pkg/logger"
	"github.com/VicenzaTech/psm-backend/internal/repository"
)

// DeviceLookup reads device metadata owned by the production backend. A
// resource the backend does not know is returned as (nil, nil).
type DeviceLookup interface {
	Device(ctx context.Context, deviceID string) (*device.Device, error)
	MeasurementType(ctx context.Context, id int64) (*device.MeasurementType, error)
	Position(ctx context.Context, id int64) (*device.Position, error)
}

// DeviceMappingInput maps a device to a stage of a line. IsActive defaults
// to true.
type DeviceMappingInput struct {
	ProductionLineID     int64        `json:"productionLineId"`
	Stage                domain.Stage `json:"stage"`
	MeasurementPosition  int64        `json:"measurementPosition"`
	IotDeviceID          string       `json:"iotDeviceId"`
	IotMeasurementTypeID int64        `json:"iotMeasurementTypeId"`
	IsActive             *bool        `json:"isActive"`
}

// DeviceMappingPatch updates a mapping. Nil fields are left unchanged.
type DeviceMappingPatch struct {
	ProductionLineID     *int64        `json:"productionLineId"`
	Stage                *domain.Stage `json:"stage"`
	MeasurementPosition  *int64        `json:"measurementPosition"`
	IotDeviceID          *string       `json:"iotDeviceId"`
	IotMeasurementTypeID *int64        `json:"iotMeasurementTypeId"`
	IsActive             *bool         `json:"isActive"`
}

// DeviceMappingListFilter narrows List. Nil fields do not filter; the zero
// value lists every mapping and is cached.
type DeviceMappingListFilter struct {
	ProductionLineID *int64
	IsActive         *bool
}

// deviceMappingAttempts bounds how often a write reloads after losing a
// race on the active flag.
const deviceMappingAttempts = 3

// StageDeviceMappingService maps counter devices to line stages.
//
// An active mapping needs an active line, and no other active mapping may
// hold the same device or the same line and stage. Those checks run up front
// for readable errors; the partial unique indexes behind
// repository.ConstraintActiveDevice and ConstraintActiveLineStage hold them
// under concurrency.
type StageDeviceMappingService struct {
	deps   Deps
	lines  *ProductionLineService
	lookup DeviceLookup
}

// NewStageDeviceMappingService creates a new StageDeviceMappingService.
func NewStageDeviceMappingService(deps Deps, lines *ProductionLineService, lookup DeviceLookup) *StageDeviceMappingService {
	return &StageDeviceMappingService{deps: deps.WithDefaults(), lines: lines, lookup: lookup}
}

// Create validates in against the catalog and the production backend, then
// stores the mapping.
func (s *StageDeviceMappingService) Create(ctx context.Context, in DeviceMappingInput, actor string) (domain.Result[domain.StageDeviceMapping], error) {
	deviceID, err := required("iotDeviceId", in.IotDeviceID)
	if err != nil {
		return domain.Result[domain.StageDeviceMapping]{}, err
	}
	if !in.Stage.Valid() {
		return domain.Result[domain.StageDeviceMapping]{}, apperrors.ErrValidationf("stage", "unknown stage %q", in.Stage)
	}
	if err := positiveID("measurementPosition", in.MeasurementPosition); err != nil {
		return domain.Result[domain.StageDeviceMapping]{}, err
	}
	if err := positiveID("iotMeasurementTypeId", in.IotMeasurementTypeID); err != nil {
		return domain.Result[domain.StageDeviceMapping]{}, err
	}

	now := s.deps.Now()
	m := domain.StageDeviceMapping{
		ProductionLineID:     in.ProductionLineID,
		Stage:                in.Stage,
		MeasurementPosition:  in.MeasurementPosition,
		IotDeviceID:          deviceID,
		IotMeasurementTypeID: in.IotMeasurementTypeID,
		IsActive:             in.IsActive == nil || *in.IsActive,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.checkLine(ctx, m); err != nil {
		return domain.Result[domain.StageDeviceMapping]{}, err
	}
	if err := s.ensureFree(ctx, m); err != nil {
		return domain.Result[domain.StageDeviceMapping]{}, err
	}
	if err := s.checkDevice(ctx, m.IotDeviceID); err != nil {
		return domain.Result[domain.StageDeviceMapping]{}, err
	}
	if err := s.checkMeasurementType(ctx, m.IotMeasurementTypeID); err != nil {
		return domain.Result[domain.StageDeviceMapping]{}, err
	}
	if err := s.checkPosition(ctx, m.MeasurementPosition, m.ProductionLineID); err != nil {
		return domain.Result[domain.StageDeviceMapping]{}, err
	}

	created, err := s.deps.Repos.DeviceMappings.Create(ctx, m)
	if err != nil {
		return domain.Result[domain.StageDeviceMapping]{}, deviceWriteError(err, m)
	}
	s.deps.Cache.Invalidate(ctx, cache.ScopeDeviceMappings)

	return domain.Result[domain.StageDeviceMapping]{
		Data: created,
		Change: deviceChange(domain.ActionCreateDevice, created,
			fmt.Sprintf("Device %s mapped to stage %s of line %d", created.IotDeviceID, created.Stage, created.ProductionLineID)).
			By(actor),
	}, nil
}

// Get returns mapping id.
func (s *StageDeviceMappingService) Get(ctx context.Context, id int64) (domain.StageDeviceMapping, error) {
	m, err := s.deps.Repos.DeviceMappings.Get(ctx, id)
	if err != nil {
		return domain.StageDeviceMapping{}, lookupError(err, apperrors.CodeDeviceMappingNotFound, "StageDeviceMapping", id)
	}
	return m, nil
}

// List returns mappings ordered by id. Only the unfiltered query is cached.
func (s *StageDeviceMappingService) List(ctx context.Context, f DeviceMappingListFilter) ([]domain.StageDeviceMapping, error) {
	var active string
	if f.IsActive != nil {
		active = strconv.FormatBool(*f.IsActive)
	}
	sig := cache.Signature(map[string]string{
		"productionLineId": IDToken(f.ProductionLineID),
		"isActive":         active,
	})
	return cache.ReadThrough(ctx, s.deps.Cache, cache.ScopeDeviceMappings, sig, s.deps.ListTTL,
		func(ctx context.Context) ([]domain.StageDeviceMapping, error) {
			out, err := s.deps.Repos.DeviceMappings.List(ctx, repository.DeviceMappingFilter{
				ProductionLineID: f.ProductionLineID,
				IsActive:         f.IsActive,
			})
			if err != nil {
				return nil, fmt.Errorf("list device mappings: %w", err)
			}
			return out, nil
		})
}

// Update applies patch to mapping id. Changed device, measurement type and
// position references are re-validated against the production backend.
func (s *StageDeviceMappingService) Update(ctx context.Context, id int64, patch DeviceMappingPatch, actor string) (domain.Result[domain.StageDeviceMapping], error) {
	return retryStale(id, func() (domain.Result[domain.StageDeviceMapping], error) {
		return s.update(ctx, id, patch, actor)
	})
}

func (s *StageDeviceMappingService) update(ctx context.Context, id int64, patch DeviceMappingPatch, actor string) (domain.Result[domain.StageDeviceMapping], error) {
	m, err := s.Get(ctx, id)
	if err != nil {
		return domain.Result[domain.StageDeviceMapping]{}, err
	}
	wasActive := m.IsActive
	lineMoved := patch.ProductionLineID != nil && *patch.ProductionLineID != m.ProductionLineID

	if patch.ProductionLineID != nil {
		m.ProductionLineID = *patch.ProductionLineID
	}
	if patch.Stage != nil {
		if !patch.Stage.Valid() {
			return domain.Result[domain.StageDeviceMapping]{}, apperrors.ErrValidationf("stage", "unknown stage %q", *patch.Stage)
		}
		m.Stage = *patch.Stage
	}
	if patch.IotDeviceID != nil {
		v, err := required("iotDeviceId", *patch.IotDeviceID)
		if err != nil {
			return domain.Result[domain.StageDeviceMapping]{}, err
		}
		m.IotDeviceID = v
	}
	if patch.MeasurementPosition != nil {
		if err := positiveID("measurementPosition", *patch.MeasurementPosition); err != nil {
			return domain.Result[domain.StageDeviceMapping]{}, err
		}
		m.MeasurementPosition = *patch.MeasurementPosition
	}
	if patch.IotMeasurementTypeID != nil {
		if err := positiveID("iotMeasurementTypeId", *patch.IotMeasurementTypeID); err != nil {
			return domain.Result[domain.StageDeviceMapping]{}, err
		}
		m.IotMeasurementTypeID = *patch.IotMeasurementTypeID
	}
	if patch.IsActive != nil {
		m.IsActive = *patch.IsActive
	}

	if err := s.checkLine(ctx, m); err != nil {
		return domain.Result[domain.StageDeviceMapping]{}, err
	}
	if err := s.ensureFree(ctx, m); err != nil {
		return domain.Result[domain.StageDeviceMapping]{}, err
	}
	if patch.IotDeviceID != nil {
		if err := s.checkDevice(ctx, m.IotDeviceID); err != nil {
			return domain.Result[domain.StageDeviceMapping]{}, err
		}
	}
	if patch.IotMeasurementTypeID != nil {
		if err := s.checkMeasurementType(ctx, m.IotMeasurementTypeID); err != nil {
			return domain.Result[domain.StageDeviceMapping]{}, err
		}
	}
	if patch.MeasurementPosition != nil || lineMoved {
		if err := s.checkPosition(ctx, m.MeasurementPosition, m.ProductionLineID); err != nil {
			return domain.Result[domain.StageDeviceMapping]{}, err
		}
	}

	return s.write(ctx, m, wasActive, domain.ActionUpdateDevice,
		fmt.Sprintf("Device mapping %s updated", m.IotDeviceID), actor)
}

// UpdateLiveStatus records the execution status the device last reported
// for its stage. Any known status may follow any other.
func (s *StageDeviceMappingService) UpdateLiveStatus(ctx context.Context, id int64, status domain.StageStatus, actor string) (domain.Result[domain.StageDeviceMapping], error) {
	if !status.Valid() {
		return domain.Result[domain.StageDeviceMapping]{}, apperrors.ErrValidationf("stageStatus", "unknown stage status %q", status)
	}
	return retryStale(id, func() (domain.Result[domain.StageDeviceMapping], error) {
		m, err := s.Get(ctx, id)
		if err != nil {
			return domain.Result[domain.StageDeviceMapping]{}, err
		}
		var before string
		if m.StageLiveStatus != nil {
			before = string(*m.StageLiveStatus)
		}
		m.StageLiveStatus = &status
		res, err := s.write(ctx, m, m.IsActive, domain.ActionUpdateDevice,
			fmt.Sprintf("Device %s marked %s", m.IotDeviceID, status), actor)
		if err != nil {
			return res, err
		}
		res.Change = res.Change.WithMeta("before", before).WithMeta("after", string(status))
		return res, nil
	})
}

// Remove deactivates mapping id, freeing its device and its line stage.
// Removing an inactive mapping changes nothing.
func (s *StageDeviceMappingService) Remove(ctx context.Context, id int64, actor string) (domain.Result[domain.StageDeviceMapping], error) {
	return retryStale(id, func() (domain.Result[domain.StageDeviceMapping], error) {
		m, err := s.Get(ctx, id)
		if err != nil {
			return domain.Result[domain.StageDeviceMapping]{}, err
		}
		if !m.IsActive {
			return domain.Result[domain.StageDeviceMapping]{
				Data: m,
				Change: deviceChange(domain.ActionDisableDevice, m,
					fmt.Sprintf("Device mapping %s is already inactive", m.IotDeviceID)).By(actor),
			}, nil
		}
		m.IsActive = false
		return s.write(ctx, m, true, domain.ActionDisableDevice,
			fmt.Sprintf("Device mapping %s removed from line %d", m.IotDeviceID, m.ProductionLineID), actor)
	})
}

// Activate re-enables mapping id under the same rules as Create. Activating
// an active mapping changes nothing.
func (s *StageDeviceMappingService) Activate(ctx context.Context, id int64, actor string) (domain.Result[domain.StageDeviceMapping], error) {
	return retryStale(id, func() (domain.Result[domain.StageDeviceMapping], error) {
		m, err := s.Get(ctx, id)
		if err != nil {
			return domain.Result[domain.StageDeviceMapping]{}, err
		}
		if m.IsActive {
			return domain.Result[domain.StageDeviceMapping]{
				Data: m,
				Change: deviceChange(domain.ActionDeviceRecovered, m,
					fmt.Sprintf("Device mapping %s is already active", m.IotDeviceID)).By(actor),
			}, nil
		}
		m.IsActive = true
		if err := s.checkLine(ctx, m); err != nil {
			return domain.Result[domain.StageDeviceMapping]{}, err
		}
		if err := s.ensureFree(ctx, m); err != nil {
			return domain.Result[domain.StageDeviceMapping]{}, err
		}
		return s.write(ctx, m, false, domain.ActionDeviceRecovered,
			fmt.Sprintf("Device mapping %s re-enabled on line %d", m.IotDeviceID, m.ProductionLineID), actor)
	})
}

// write stores m if its active flag is still wasActive. A lost race comes
// back as repository.ErrStale for retryStale.
func (s *StageDeviceMappingService) write(ctx context.Context, m domain.StageDeviceMapping, wasActive bool, action, description, actor string) (domain.Result[domain.StageDeviceMapping], error) {
	m.UpdatedAt = s.deps.Now()
	out, err := s.deps.Repos.DeviceMappings.Update(ctx, m, wasActive)
	if errors.Is(err, repository.ErrStale) {
		return domain.Result[domain.StageDeviceMapping]{}, err
	}
	if err != nil {
		return domain.Result[domain.StageDeviceMapping]{}, deviceWriteError(err, m)
	}
	s.deps.Cache.Invalidate(ctx, cache.ScopeDeviceMappings)
	return domain.Result[domain.StageDeviceMapping]{
		Data:   out,
		Change: deviceChange(action, out, description).By(actor),
	}, nil
}

// retryStale reruns op while it loses to a concurrent change of the active
// flag.
func retryStale(id int64, op func() (domain.Result[domain.StageDeviceMapping], error)) (domain.Result[domain.StageDeviceMapping], error) {
	var err error
	for attempt := 0; attempt < deviceMappingAttempts; attempt++ {
		var res domain.Result[domain.StageDeviceMapping]
		res, err = op()
		if !errors.Is(err, repository.ErrStale) {
			return res, err
		}
		logger.Info("device mapping write lost to a concurrent change, reloading",
			zap.Int64("device_mapping_id", id),
			zap.Int("attempt", attempt+1),
		)
	}
	return domain.Result[domain.StageDeviceMapping]{}, fmt.Errorf("write device mapping %d: %w", id, err)
}

// checkLine requires the line to exist, and to be active when m is.
func (s *StageDeviceMappingService) checkLine(ctx context.Context, m domain.StageDeviceMapping) error {
	if m.IsActive {
		_, err := s.lines.EnsureActive(ctx, m.ProductionLineID)
		return err
	}
	_, err := s.lines.EnsureExists(ctx, m.ProductionLineID)
	return err
}

// ensureFree rejects an active m whose device or line stage is held by
// another active mapping.
func (s *StageDeviceMappingService) ensureFree(ctx context.Context, m domain.StageDeviceMapping) error {
	if !m.IsActive {
		return nil
	}
	active := true
	others, err := s.deps.Repos.DeviceMappings.List(ctx, repository.DeviceMappingFilter{IsActive: &active})
	if err != nil {
		return fmt.Errorf("list active device mappings: %w", err)
	}
	for _, o := range others {
		if o.ID == m.ID {
			continue
		}
		if o.IotDeviceID == m.IotDeviceID {
			return deviceAlreadyMapped(m.IotDeviceID, o.ID)
		}
		if o.ProductionLineID == m.ProductionLineID && o.Stage == m.Stage {
			return stageAlreadyMapped(m.ProductionLineID, m.Stage, o.ID)
		}
	}
	return nil
}

func (s *StageDeviceMappingService) checkDevice(ctx context.Context, deviceID string) error {
	d, err := s.lookup.Device(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("look up device %s: %w", deviceID, err)
	}
	if d == nil {
		return apperrors.ErrValidationf("iotDeviceId", "device %q does not exist on the production backend", deviceID)
	}
	return nil
}

func (s *StageDeviceMappingService) checkMeasurementType(ctx context.Context, id int64) error {
	mt, err := s.lookup.MeasurementType(ctx, id)
	if err != nil {
		return fmt.Errorf("look up measurement type %d: %w", id, err)
	}
	if mt == nil {
		return apperrors.ErrValidationf("iotMeasurementTypeId", "measurement type %d does not exist on the production backend", id)
	}
	return nil
}

// checkPosition requires position id to exist and, when the backend ties it
// to a line, to sit on lineID.
func (s *StageDeviceMappingService) checkPosition(ctx context.Context, id, lineID int64) error {
	p, err := s.lookup.Position(ctx, id)
	if err != nil {
		return fmt.Errorf("look up position %d: %w", id, err)
	}
	if p == nil {
		return apperrors.ErrValidationf("measurementPosition", "position %d does not exist on the production backend", id)
	}
	if p.ProductionLineID != nil && *p.ProductionLineID != lineID {
		return apperrors.ErrValidationf("measurementPosition", "position %d belongs to line %d, not line %d", id, *p.ProductionLineID, lineID)
	}
	return nil
}

func positiveID(field string, v int64) error {
	if v <= 0 {
		return apperrors.ErrValidationf(field, "%s must be a positive integer", field)
	}
	return nil
}

func deviceAlreadyMapped(deviceID string, holderID int64) error {
	return apperrors.Conflict(apperrors.CodeDeviceAlreadyMapped,
		fmt.Sprintf("device %q already has an active mapping", deviceID)).
		WithParams(map[string]interface{}{"iot_device_id": deviceID, "device_mapping_id": holderID})
}

func stageAlreadyMapped(lineID int64, stage domain.Stage, holderID int64) error {
	return apperrors.Conflict(apperrors.CodeStageAlreadyMapped,
		fmt.Sprintf("production line %d already has an active mapping at stage %s", lineID, stage)).
		WithParams(map[string]interface{}{
			"production_line_id": lineID,
			"stage":              string(stage),
			"device_mapping_id":  holderID,
		})
}

// deviceWriteError maps a failed mapping write. A unique violation means a
// concurrent writer claimed the device or line stage after the pre-check.
func deviceWriteError(err error, m domain.StageDeviceMapping) error {
	switch repository.ViolatedConstraint(err) {
	case repository.ConstraintActiveDevice:
		return deviceAlreadyMapped(m.IotDeviceID, 0)
	case repository.ConstraintActiveLineStage:
		return stageAlreadyMapped(m.ProductionLineID, m.Stage, 0)
	}
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NotFound(apperrors.CodeDeviceMappingNotFound, "device mapping or its production line not found")
	}
	return fmt.Errorf("write device mapping: %w", err)
}

func deviceChange(action string, m domain.StageDeviceMapping, description string) domain.ChangeRecord {
	return domain.NewChange(action, domain.EntityDevice, m.ID, description).
		Named(m.IotDeviceID).
		WithMeta("productionLineId", m.ProductionLineID).
		WithMeta("stage", string(m.Stage))
}
