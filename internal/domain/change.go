package domain

import (
	"encoding/json"
	"time"
)

// EntityType names the aggregate a change record refers to.
type EntityType string

const (
	EntityWorkshop             EntityType = "Workshop"
	EntityProductionLine       EntityType = "ProductionLine"
	EntityBrickType            EntityType = "BrickType"
	EntityProductionPlan       EntityType = "ProductionPlan"
	EntityStageAssignment      EntityType = "StageAssignment"
	EntityDailyStageProduction EntityType = "DailyStageProduction"
	EntityDevice               EntityType = "Device"
)

// Severity of an activity record.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeveritySecurity Severity = "SECURITY"
)

// Source says who initiated the change.
type Source string

const (
	SourceAPI    Source = "API"
	SourceJob    Source = "JOB"
	SourceSystem Source = "SYSTEM"
)

// Action codes carried by change records.
const (
	ActionCreateWorkshop        = "CREATE_WORKSHOP"
	ActionUpdateWorkshop        = "UPDATE_WORKSHOP"
	ActionDisableWorkshop       = "DISABLE_WORKSHOP"
	ActionCreateProductionLine  = "CREATE_PRODUCTION_LINE"
	ActionUpdateProductionLine  = "UPDATE_PRODUCTION_LINE"
	ActionDisableProductionLine = "DISABLE_PRODUCTION_LINE"
	ActionCreateBrickType       = "CREATE_BRICK_TYPE"
	ActionUpdateBrickType       = "UPDATE_BRICK_TYPE"
	ActionDisableBrickType      = "DISABLE_BRICK_TYPE"
	ActionCreateProductionPlan  = "CREATE_PRODUCTION_PLAN"
	ActionUpdateProductionPlan  = "UPDATE_PRODUCTION_PLAN"
	ActionApproveProductionPlan = "APPROVE_PRODUCTION_PLAN"
	ActionCancelProductionPlan  = "CANCEL_PRODUCTION_PLAN"
	ActionCloseProductionPlan   = "CLOSE_PRODUCTION_PLAN"
	ActionDeleteProductionPlan  = "DELETE_PRODUCTION_PLAN"
	ActionStartStageAssignment  = "START_STAGE_ASSIGNMENT"
	ActionUpdateStageAssignment = "UPDATE_STAGE_ASSIGNMENT"
	ActionStopStageAssignment   = "STOP_STAGE_ASSIGNMENT"
	ActionSyncDailyProduction   = "SYNC_DAILY_PRODUCTION"
	ActionImportDailyProduction = "IMPORT_DAILY_PRODUCTION"
	ActionAdjustDailyProduction = "ADJUST_DAILY_PRODUCTION"
	ActionCreateDevice          = "CREATE_DEVICE"
	ActionUpdateDevice          = "UPDATE_DEVICE"
	ActionDisableDevice         = "DISABLE_DEVICE"
	ActionDeviceRecovered       = "DEVICE_RECOVERED"
)

// ChangeRecord describes what a mutation did. Workflows return it as data;
// delivery to the activity log happens outside the workflow.
type ChangeRecord struct {
	Action      string                 `json:"action"`
	ActionType  string                 `json:"actionType"`
	EntityType  EntityType             `json:"entityType"`
	EntityID    *int64                 `json:"entityId,omitempty"`
	EntityName  string                 `json:"entityName,omitempty"`
	Description string                 `json:"description"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Actor       string                 `json:"actor,omitempty"`
	Severity    Severity               `json:"severity"`
	Source      Source                 `json:"source"`
	OccurredAt  time.Time              `json:"occurredAt"`
}

// NewChange builds an INFO change record for entity id.
func NewChange(action string, entity EntityType, id int64, description string) ChangeRecord {
	entityID := id
	return ChangeRecord{
		Action:      action,
		ActionType:  action,
		EntityType:  entity,
		EntityID:    &entityID,
		Description: description,
		Severity:    SeverityInfo,
		Source:      SourceAPI,
		OccurredAt:  Now(),
	}
}

// WithMeta returns a copy of c with key set in Metadata.
func (c ChangeRecord) WithMeta(key string, value interface{}) ChangeRecord {
	meta := make(map[string]interface{}, len(c.Metadata)+1)
	for k, v := range c.Metadata {
		meta[k] = v
	}
	meta[key] = value
	c.Metadata = meta
	return c
}

// By returns a copy of c attributed to actor.
func (c ChangeRecord) By(actor string) ChangeRecord {
	c.Actor = actor
	return c
}

// Named returns a copy of c with a human-readable entity name.
func (c ChangeRecord) Named(name string) ChangeRecord {
	c.EntityName = name
	return c
}

// MetadataJSON encodes Metadata for storage; empty metadata encodes as nil.
func (c ChangeRecord) MetadataJSON() ([]byte, error) {
	if len(c.Metadata) == 0 {
		return nil, nil
	}
	return json.Marshal(c.Metadata)
}

// Result is the return value of every mutating operation: the updated record,
// the primary change, and changes cascaded from it (e.g. a plan auto-advance).
type Result[T any] struct {
	Data    T
	Change  ChangeRecord
	Related []ChangeRecord
}

// Changes returns the primary change followed by the related ones.
func (r Result[T]) Changes() []ChangeRecord {
	out := make([]ChangeRecord, 0, 1+len(r.Related))
	out = append(out, r.Change)
	return append(out, r.Related...)
}
