package domain

import (
	"time"
)

// Stage is a fixed manufacturing step.
type Stage string

const (
	StageEP        Stage = "EP"         // pressing
	StageNung      Stage = "NUNG"       // firing
	StageNungMen   Stage = "NUNG_MEN"   // glaze firing
	StageNungSuong Stage = "NUNG_SUONG" // bisque firing
	StageMai       Stage = "MAI"        // polishing
	StageDongHop   Stage = "DONG_HOP"   // packing
)

// Stages lists every stage in production order.
var Stages = []Stage{StageEP, StageNung, StageNungMen, StageNungSuong, StageMai, StageDongHop}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	for _, known := range Stages {
		if s == known {
			return true
		}
	}
	return false
}

// StageStatus is the execution state of a stage assignment.
type StageStatus string

const (
	StageStatusWaiting StageStatus = "WAITING"
	StageStatusRunning StageStatus = "RUNNING"
	StageStatusStopped StageStatus = "STOPPED"
	StageStatusError   StageStatus = "ERROR"
)

// stageTransitions is the execution graph. Self edges are allowed so repeated
// status reports are idempotent; STOPPED is reachable from every state.
var stageTransitions = map[StageStatus][]StageStatus{
	StageStatusWaiting: {StageStatusWaiting, StageStatusRunning, StageStatusStopped},
	StageStatusRunning: {StageStatusRunning, StageStatusStopped, StageStatusError},
	StageStatusError:   {StageStatusError, StageStatusStopped},
	StageStatusStopped: {StageStatusStopped},
}

// Valid reports whether s is a known stage status.
func (s StageStatus) Valid() bool {
	_, ok := stageTransitions[s]
	return ok
}

// Terminal reports whether s ends the assignment's execution.
func (s StageStatus) Terminal() bool {
	return s == StageStatusStopped || s == StageStatusError
}

// CheckStageTransition returns a *TransitionError when from → to is not an
// edge of the execution graph.
func CheckStageTransition(from, to StageStatus) error {
	for _, next := range stageTransitions[from] {
		if next == to {
			return nil
		}
	}
	return &TransitionError{Current: string(from), Attempted: string(to)}
}

// StageAssignment binds one stage to one plan.
// ProductionLineID and BrickTypeID are copied from the plan at creation time.
type StageAssignment struct {
	ID               int64       `json:"id"`
	ProductionPlanID int64       `json:"productionPlanId"`
	ProductionLineID int64       `json:"productionLineId"`
	BrickTypeID      int64       `json:"brickTypeId"`
	Stage            Stage       `json:"stage"`
	Status           StageStatus `json:"status"`
	IsActive         bool        `json:"isActive"`
	TargetQuantity   *int64      `json:"targetQuantity,omitempty"`
	StartTime        *time.Time  `json:"startTime,omitempty"`
	EndTime          *time.Time  `json:"endTime,omitempty"`
	Notes            string      `json:"notes,omitempty"`
	CreatedBy        string      `json:"createdBy"`
	CreatedAt        time.Time   `json:"createdAt"`
	UpdatedAt        time.Time   `json:"updatedAt"`
}

// ApplyStatus moves the assignment to status and stamps the execution
// timestamps: StartTime the first time it runs, EndTime the first time it
// stops or fails. Existing timestamps are never overwritten.
func (a *StageAssignment) ApplyStatus(status StageStatus, now time.Time) error {
	if err := CheckStageTransition(a.Status, status); err != nil {
		return err
	}
	a.Status = status
	if status == StageStatusRunning && a.StartTime == nil {
		t := now
		a.StartTime = &t
	}
	if status.Terminal() && a.EndTime == nil {
		t := now
		a.EndTime = &t
	}
	return nil
}
