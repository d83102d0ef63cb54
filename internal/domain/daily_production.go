package domain

import "time"

// Shift is a work shift. The empty shift means a whole-day record.
type Shift string

const (
	ShiftNone Shift = ""
	ShiftA    Shift = "A"
	ShiftB    Shift = "B"
	ShiftC    Shift = "C"
)

// Valid reports whether s is a known shift (including none).
func (s Shift) Valid() bool {
	switch s {
	case ShiftNone, ShiftA, ShiftB, ShiftC:
		return true
	}
	return false
}

// DataSource tells where a production figure came from.
type DataSource string

const (
	DataSourceAutoSync    DataSource = "auto_sync"
	DataSourceManualInput DataSource = "manual_input"
	DataSourceAdjusted    DataSource = "adjusted"
)

// Valid reports whether d is a known data source.
func (d DataSource) Valid() bool {
	switch d {
	case DataSourceAutoSync, DataSourceManualInput, DataSourceAdjusted:
		return true
	}
	return false
}

// DailyStageProduction is one day's (and optionally one shift's) output of a
// stage assignment. (StageAssignmentID, ProductionDate, Shift) is unique.
type DailyStageProduction struct {
	ID                int64      `json:"id"`
	StageAssignmentID int64      `json:"stageAssignmentId"`
	ProductionDate    time.Time  `json:"productionDate"`
	Shift             Shift      `json:"shift,omitempty"`
	StartCounter      *int64     `json:"startCounter,omitempty"`
	EndCounter        *int64     `json:"endCounter,omitempty"`
	ActualQuantity    int64      `json:"actualQuantity"`
	WasteQuantity     int64      `json:"wasteQuantity"`
	DataSource        DataSource `json:"dataSource"`
	RecordedBy        string     `json:"recordedBy,omitempty"`
	Notes             string     `json:"notes,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// ProductionDay truncates t to its UTC calendar day.
func ProductionDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
