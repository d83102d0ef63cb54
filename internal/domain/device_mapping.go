package domain

import "time"

// StageDeviceMapping binds an IoT counter device to one stage of one
// production line. At most one active mapping exists per device and per
// (line, stage) pair.
type StageDeviceMapping struct {
	ID                   int64        `json:"id"`
	ProductionLineID     int64        `json:"productionLineId"`
	Stage                Stage        `json:"stage"`
	MeasurementPosition  int64        `json:"measurementPosition"`
	IotDeviceID          string       `json:"iotDeviceId"`
	IotMeasurementTypeID int64        `json:"iotMeasurementTypeId"`
	StageLiveStatus      *StageStatus `json:"stageLiveStatus,omitempty"`
	IsActive             bool         `json:"isActive"`
	CreatedAt            time.Time    `json:"createdAt"`
	UpdatedAt            time.Time    `json:"updatedAt"`
}
