package domain

import (
	"fmt"
	"time"
)

// PlanStatus is the lifecycle state of a production plan.
type PlanStatus string

const (
	PlanStatusDraft      PlanStatus = "DRAFT"
	PlanStatusApproved   PlanStatus = "APPROVED"
	PlanStatusInProgress PlanStatus = "IN_PROGRESS"
	PlanStatusCompleted  PlanStatus = "COMPLETED"
	PlanStatusCancelled  PlanStatus = "CANCELLED"
)

// Valid reports whether s is a known plan status.
func (s PlanStatus) Valid() bool {
	_, ok := planTransitions[s]
	return ok
}

// Closed reports whether no further work may be scheduled against the plan.
func (s PlanStatus) Closed() bool {
	return s == PlanStatusCompleted || s == PlanStatusCancelled
}

// planTransitions is the complete plan lifecycle graph. No other edge exists.
var planTransitions = map[PlanStatus][]PlanStatus{
	PlanStatusDraft:      {PlanStatusApproved, PlanStatusCancelled},
	PlanStatusApproved:   {PlanStatusInProgress, PlanStatusCancelled},
	PlanStatusInProgress: {PlanStatusCompleted, PlanStatusCancelled},
	PlanStatusCompleted:  {},
	PlanStatusCancelled:  {},
}

// CanTransitionPlan reports whether from → to is an edge of the plan graph.
func CanTransitionPlan(from, to PlanStatus) bool {
	for _, next := range planTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PlanOperation names an operator-visible plan command.
type PlanOperation string

const (
	PlanOpUpdate         PlanOperation = "update"
	PlanOpApprove        PlanOperation = "approve"
	PlanOpReject         PlanOperation = "reject"
	PlanOpMarkInProgress PlanOperation = "mark_in_progress"
	PlanOpMarkCompleted  PlanOperation = "mark_completed"
	PlanOpMarkCancelled  PlanOperation = "mark_cancelled"
	PlanOpRemove         PlanOperation = "remove"
	PlanOpAutoAdvance    PlanOperation = "auto_advance"
)

// planOperationRule says from which states an operation is legal and which
// state it produces. An empty target means the status is left unchanged.
type planOperationRule struct {
	from   []PlanStatus
	target PlanStatus
}

var planOperations = map[PlanOperation]planOperationRule{
	PlanOpUpdate:         {from: []PlanStatus{PlanStatusDraft}},
	PlanOpApprove:        {from: []PlanStatus{PlanStatusDraft}, target: PlanStatusApproved},
	PlanOpReject:         {from: []PlanStatus{PlanStatusDraft, PlanStatusApproved}, target: PlanStatusCancelled},
	PlanOpMarkInProgress: {from: []PlanStatus{PlanStatusApproved}, target: PlanStatusInProgress},
	PlanOpMarkCompleted:  {from: []PlanStatus{PlanStatusInProgress}, target: PlanStatusCompleted},
	PlanOpMarkCancelled:  {from: []PlanStatus{PlanStatusDraft, PlanStatusApproved, PlanStatusInProgress}, target: PlanStatusCancelled},
	PlanOpRemove:         {from: []PlanStatus{PlanStatusDraft, PlanStatusCancelled}},
	PlanOpAutoAdvance:    {from: []PlanStatus{PlanStatusApproved}, target: PlanStatusInProgress},
}

// PlanOperationTarget validates op against the current status and returns the
// resulting status. Operations that do not change status return current.
func PlanOperationTarget(op PlanOperation, current PlanStatus) (PlanStatus, error) {
	rule, ok := planOperations[op]
	if !ok {
		return current, fmt.Errorf("unknown plan operation %q", op)
	}
	for _, from := range rule.from {
		if from != current {
			continue
		}
		if rule.target == "" {
			return current, nil
		}
		if !CanTransitionPlan(current, rule.target) {
			return current, fmt.Errorf("plan operation %q maps %s to %s outside the lifecycle graph", op, current, rule.target)
		}
		return rule.target, nil
	}
	return current, &TransitionError{Current: string(current), Attempted: op.attempted()}
}

// attempted describes the target of op for error messages.
func (op PlanOperation) attempted() string {
	if rule, ok := planOperations[op]; ok && rule.target != "" {
		return string(rule.target)
	}
	return string(op)
}

// TransitionError is returned by the transition tables when an operation is
// not legal from the current state.
type TransitionError struct {
	Current   string
	Attempted string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("transition from %s to %s is not allowed", e.Current, e.Attempted)
}

// ProductionPlan is a scheduled production run of one brick type on one line.
type ProductionPlan struct {
	ID               int64      `json:"id"`
	PlanCode         string     `json:"planCode"`
	ProductionLineID int64      `json:"productionLineId"`
	BrickTypeID      int64      `json:"brickTypeId"`
	TargetQuantity   int64      `json:"targetQuantity"`
	StartDate        time.Time  `json:"startDate"`
	EndDate          time.Time  `json:"endDate"`
	Customer         string     `json:"customer,omitempty"`
	Notes            string     `json:"notes,omitempty"`
	Status           PlanStatus `json:"status"`
	CreatedBy        string     `json:"createdBy"`
	ApprovedBy       string     `json:"approvedBy,omitempty"`
	ApprovedAt       *time.Time `json:"approvedAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`

	// StageAssignments is populated on reads; writes ignore it.
	StageAssignments []StageAssignment `json:"stageAssignments,omitempty"`
}

// ValidateDates enforces endDate >= startDate.
func (p *ProductionPlan) ValidateDates() error {
	if p.EndDate.Before(p.StartDate) {
		return fmt.Errorf("endDate must be greater than or equal to startDate")
	}
	return nil
}

// HasRunningStage reports whether any active assignment is RUNNING.
func HasRunningStage(assignments []StageAssignment) bool {
	for _, a := range assignments {
		if a.IsActive && a.Status == StageStatusRunning {
			return true
		}
	}
	return false
}
