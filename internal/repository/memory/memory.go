// Package memory implements the repository contracts in process memory.
//
// It enforces the same unique constraints as the PostgreSQL schema,
// including the partial unique indexes on active stages and device mappings,
// so workflows behave identically on both backends. Referential integrity is
// left to callers.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/VicenzaTech/psm-backend/internal/domain"
	"github.com/VicenzaTech/psm-backend/internal/repository"
)

// DB holds every table behind one lock, so each repository call is atomic.
type DB struct {
	mu sync.Mutex

	workshops   table[domain.Workshop]
	lines       table[domain.ProductionLine]
	brickTypes  table[domain.BrickType]
	plans       table[domain.ProductionPlan]
	assignments table[domain.StageAssignment]
	daily       table[domain.DailyStageProduction]
	devices     table[domain.StageDeviceMapping]
}

type table[T any] struct {
	rows   map[int64]T
	nextID int64
}

func newTable[T any]() table[T] {
	return table[T]{rows: make(map[int64]T)}
}

func (t *table[T]) next() int64 {
	t.nextID++
	return t.nextID
}

// sorted returns the rows matching keep, ordered by id ascending.
func (t *table[T]) sorted(keep func(T) bool) []int64 {
	ids := make([]int64, 0, len(t.rows))
	for id, row := range t.rows {
		if keep == nil || keep(row) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// NewDB creates an empty in-memory database.
func NewDB() *DB {
	return &DB{
		workshops:   newTable[domain.Workshop](),
		lines:       newTable[domain.ProductionLine](),
		brickTypes:  newTable[domain.BrickType](),
		plans:       newTable[domain.ProductionPlan](),
		assignments: newTable[domain.StageAssignment](),
		daily:       newTable[domain.DailyStageProduction](),
		devices:     newTable[domain.StageDeviceMapping](),
	}
}

// New returns repositories backed by a fresh in-memory database.
func New() repository.Repositories {
	return NewDB().Repositories()
}

// Repositories returns repositories sharing db.
func (db *DB) Repositories() repository.Repositories {
	return repository.Repositories{
		Workshops:        workshopRepo{db},
		ProductionLines:  lineRepo{db},
		BrickTypes:       brickTypeRepo{db},
		Plans:            planRepo{db},
		StageAssignments: assignmentRepo{db},
		DailyProductions: dailyRepo{db},
		DeviceMappings:   deviceRepo{db},
	}
}

func unique(constraint string) error {
	return &repository.UniqueViolationError{Constraint: constraint}
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneAssignment(a domain.StageAssignment) domain.StageAssignment {
	a.TargetQuantity = clonePtr(a.TargetQuantity)
	a.StartTime = clonePtr(a.StartTime)
	a.EndTime = clonePtr(a.EndTime)
	return a
}

func cloneDevice(m domain.StageDeviceMapping) domain.StageDeviceMapping {
	m.StageLiveStatus = clonePtr(m.StageLiveStatus)
	return m
}

func clonePlan(p domain.ProductionPlan) domain.ProductionPlan {
	p.ApprovedAt = clonePtr(p.ApprovedAt)
	p.StageAssignments = nil
	return p
}

func cloneDaily(d domain.DailyStageProduction) domain.DailyStageProduction {
	d.StartCounter = clonePtr(d.StartCounter)
	d.EndCounter = clonePtr(d.EndCounter)
	return d
}

// --- workshops ---

type workshopRepo struct{ db *DB }

func (r workshopRepo) codeTaken(code string, except int64) bool {
	for id, w := range r.db.workshops.rows {
		if id != except && w.Code == code {
			return true
		}
	}
	return false
}

func (r workshopRepo) Create(_ context.Context, w domain.Workshop) (domain.Workshop, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if r.codeTaken(w.Code, 0) {
		return domain.Workshop{}, unique(repository.ConstraintWorkshopCode)
	}
	w.ID = r.db.workshops.next()
	r.db.workshops.rows[w.ID] = w
	return w, nil
}

func (r workshopRepo) Get(_ context.Context, id int64) (domain.Workshop, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	w, ok := r.db.workshops.rows[id]
	if !ok {
		return domain.Workshop{}, repository.ErrNotFound
	}
	return w, nil
}

func (r workshopRepo) List(_ context.Context, f repository.WorkshopFilter) ([]domain.Workshop, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	ids := r.db.workshops.sorted(func(w domain.Workshop) bool {
		return f.IsActive == nil || w.IsActive == *f.IsActive
	})
	out := make([]domain.Workshop, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.db.workshops.rows[id])
	}
	return out, nil
}

func (r workshopRepo) Update(_ context.Context, w domain.Workshop) (domain.Workshop, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	cur, ok := r.db.workshops.rows[w.ID]
	if !ok {
		return domain.Workshop{}, repository.ErrNotFound
	}
	if r.codeTaken(w.Code, w.ID) {
		return domain.Workshop{}, unique(repository.ConstraintWorkshopCode)
	}
	w.CreatedAt = cur.CreatedAt
	r.db.workshops.rows[w.ID] = w
	return w, nil
}

// --- production lines ---

type lineRepo struct{ db *DB }

func (r lineRepo) codeTaken(workshopID int64, code string, except int64) bool {
	for id, l := range r.db.lines.rows {
		if id != except && l.WorkshopID == workshopID && l.Code == code {
			return true
		}
	}
	return false
}

func (r lineRepo) Create(_ context.Context, l domain.ProductionLine) (domain.ProductionLine, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if r.codeTaken(l.WorkshopID, l.Code, 0) {
		return domain.ProductionLine{}, unique(repository.ConstraintProductionLineCode)
	}
	l.ID = r.db.lines.next()
	r.db.lines.rows[l.ID] = l
	return l, nil
}

func (r lineRepo) Get(_ context.Context, id int64) (domain.ProductionLine, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	l, ok := r.db.lines.rows[id]
	if !ok {
		return domain.ProductionLine{}, repository.ErrNotFound
	}
	return l, nil
}

func (r lineRepo) List(_ context.Context, f repository.ProductionLineFilter) ([]domain.ProductionLine, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	ids := r.db.lines.sorted(func(l domain.ProductionLine) bool {
		if f.WorkshopID != nil && l.WorkshopID != *f.WorkshopID {
			return false
		}
		return f.IsActive == nil || l.IsActive == *f.IsActive
	})
	out := make([]domain.ProductionLine, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.db.lines.rows[id])
	}
	return out, nil
}

func (r lineRepo) Update(_ context.Context, l domain.ProductionLine) (domain.ProductionLine, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	cur, ok := r.db.lines.rows[l.ID]
	if !ok {
		return domain.ProductionLine{}, repository.ErrNotFound
	}
	if r.codeTaken(l.WorkshopID, l.Code, l.ID) {
		return domain.ProductionLine{}, unique(repository.ConstraintProductionLineCode)
	}
	l.CreatedAt = cur.CreatedAt
	r.db.lines.rows[l.ID] = l
	return l, nil
}

// --- brick types ---

type brickTypeRepo struct{ db *DB }

func (r brickTypeRepo) codeTaken(code string, except int64) bool {
	for id, b := range r.db.brickTypes.rows {
		if id != except && b.Code == code {
			return true
		}
	}
	return false
}

func (r brickTypeRepo) Create(_ context.Context, b domain.BrickType) (domain.BrickType, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if r.codeTaken(b.Code, 0) {
		return domain.BrickType{}, unique(repository.ConstraintBrickTypeCode)
	}
	b.ID = r.db.brickTypes.next()
	r.db.brickTypes.rows[b.ID] = b
	return b, nil
}

func (r brickTypeRepo) Get(_ context.Context, id int64) (domain.BrickType, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	b, ok := r.db.brickTypes.rows[id]
	if !ok {
		return domain.BrickType{}, repository.ErrNotFound
	}
	return b, nil
}

func (r brickTypeRepo) List(_ context.Context, f repository.BrickTypeFilter) ([]domain.BrickType, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	ids := r.db.brickTypes.sorted(func(b domain.BrickType) bool {
		if f.Type != "" && b.Type != f.Type {
			return false
		}
		return f.IsActive == nil || b.IsActive == *f.IsActive
	})
	out := make([]domain.BrickType, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.db.brickTypes.rows[id])
	}
	return out, nil
}

func (r brickTypeRepo) Update(_ context.Context, b domain.BrickType) (domain.BrickType, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	cur, ok := r.db.brickTypes.rows[b.ID]
	if !ok {
		return domain.BrickType{}, repository.ErrNotFound
	}
	if r.codeTaken(b.Code, b.ID) {
		return domain.BrickType{}, unique(repository.ConstraintBrickTypeCode)
	}
	b.CreatedAt = cur.CreatedAt
	r.db.brickTypes.rows[b.ID] = b
	return b, nil
}

// --- production plans ---

type planRepo struct{ db *DB }

func (r planRepo) codeTaken(code string, except int64) bool {
	for id, p := range r.db.plans.rows {
		if id != except && p.PlanCode == code {
			return true
		}
	}
	return false
}

func (r planRepo) Create(_ context.Context, p domain.ProductionPlan) (domain.ProductionPlan, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if r.codeTaken(p.PlanCode, 0) {
		return domain.ProductionPlan{}, unique(repository.ConstraintPlanCode)
	}
	p = clonePlan(p)
	p.ID = r.db.plans.next()
	r.db.plans.rows[p.ID] = p
	return clonePlan(p), nil
}

func (r planRepo) Get(_ context.Context, id int64) (domain.ProductionPlan, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	p, ok := r.db.plans.rows[id]
	if !ok {
		return domain.ProductionPlan{}, repository.ErrNotFound
	}
	return clonePlan(p), nil
}

func (r planRepo) GetByCode(_ context.Context, code string) (domain.ProductionPlan, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	for _, p := range r.db.plans.rows {
		if p.PlanCode == code {
			return clonePlan(p), nil
		}
	}
	return domain.ProductionPlan{}, repository.ErrNotFound
}

func (r planRepo) List(_ context.Context, f repository.PlanFilter) ([]domain.ProductionPlan, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	ids := r.db.plans.sorted(func(p domain.ProductionPlan) bool {
		if f.ProductionLineID != nil && p.ProductionLineID != *f.ProductionLineID {
			return false
		}
		if f.Status != "" && p.Status != f.Status {
			return false
		}
		return f.Customer == "" || p.Customer == f.Customer
	})
	out := make([]domain.ProductionPlan, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		out = append(out, clonePlan(r.db.plans.rows[ids[i]]))
	}
	return out, nil
}

func (r planRepo) Update(_ context.Context, p domain.ProductionPlan, expected domain.PlanStatus) (domain.ProductionPlan, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	cur, ok := r.db.plans.rows[p.ID]
	if !ok {
		return domain.ProductionPlan{}, repository.ErrNotFound
	}
	if cur.Status != expected {
		return domain.ProductionPlan{}, repository.ErrStale
	}
	if r.codeTaken(p.PlanCode, p.ID) {
		return domain.ProductionPlan{}, unique(repository.ConstraintPlanCode)
	}
	p = clonePlan(p)
	p.CreatedAt = cur.CreatedAt
	r.db.plans.rows[p.ID] = p
	return clonePlan(p), nil
}

func (r planRepo) Delete(_ context.Context, id int64, allowed ...domain.PlanStatus) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	cur, ok := r.db.plans.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	if !statusIn(cur.Status, allowed) {
		return repository.ErrStale
	}
	delete(r.db.plans.rows, id)
	for aid, a := range r.db.assignments.rows {
		if a.ProductionPlanID != id {
			continue
		}
		delete(r.db.assignments.rows, aid)
		for did, d := range r.db.daily.rows {
			if d.StageAssignmentID == aid {
				delete(r.db.daily.rows, did)
			}
		}
	}
	return nil
}

func statusIn(s domain.PlanStatus, set []domain.PlanStatus) bool {
	for _, candidate := range set {
		if s == candidate {
			return true
		}
	}
	return false
}

// --- stage assignments ---

type assignmentRepo struct{ db *DB }

// activeHolder returns the id of another active assignment for stage, or 0.
func (r assignmentRepo) activeHolder(stage domain.Stage, except int64) int64 {
	for id, a := range r.db.assignments.rows {
		if id != except && a.IsActive && a.Stage == stage {
			return id
		}
	}
	return 0
}

func (r assignmentRepo) Create(_ context.Context, a domain.StageAssignment) (domain.StageAssignment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if a.IsActive && r.activeHolder(a.Stage, 0) != 0 {
		return domain.StageAssignment{}, unique(repository.ConstraintActiveStage)
	}
	a = cloneAssignment(a)
	a.ID = r.db.assignments.next()
	r.db.assignments.rows[a.ID] = a
	return cloneAssignment(a), nil
}

func (r assignmentRepo) Get(_ context.Context, id int64) (domain.StageAssignment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	a, ok := r.db.assignments.rows[id]
	if !ok {
		return domain.StageAssignment{}, repository.ErrNotFound
	}
	return cloneAssignment(a), nil
}

func (r assignmentRepo) List(_ context.Context, f repository.StageAssignmentFilter) ([]domain.StageAssignment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	var plans map[int64]bool
	if f.ProductionPlanIDs != nil {
		plans = make(map[int64]bool, len(f.ProductionPlanIDs))
		for _, id := range f.ProductionPlanIDs {
			plans[id] = true
		}
	}
	ids := r.db.assignments.sorted(func(a domain.StageAssignment) bool {
		if plans != nil && !plans[a.ProductionPlanID] {
			return false
		}
		return f.ProductionLineID == nil || a.ProductionLineID == *f.ProductionLineID
	})
	out := make([]domain.StageAssignment, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneAssignment(r.db.assignments.rows[id]))
	}
	return out, nil
}

func (r assignmentRepo) FindActiveByStage(_ context.Context, stage domain.Stage) (domain.StageAssignment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	id := r.activeHolder(stage, 0)
	if id == 0 {
		return domain.StageAssignment{}, repository.ErrNotFound
	}
	return cloneAssignment(r.db.assignments.rows[id]), nil
}

func (r assignmentRepo) Update(_ context.Context, a domain.StageAssignment, expected repository.AssignmentState) (domain.StageAssignment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	cur, ok := r.db.assignments.rows[a.ID]
	if !ok {
		return domain.StageAssignment{}, repository.ErrNotFound
	}
	if repository.StateOf(cur) != expected {
		return domain.StageAssignment{}, repository.ErrStale
	}
	a.ProductionPlanID, a.ProductionLineID, a.BrickTypeID = cur.ProductionPlanID, cur.ProductionLineID, cur.BrickTypeID
	a.Stage, a.CreatedBy, a.CreatedAt = cur.Stage, cur.CreatedBy, cur.CreatedAt
	if a.IsActive && r.activeHolder(a.Stage, a.ID) != 0 {
		return domain.StageAssignment{}, unique(repository.ConstraintActiveStage)
	}
	a = cloneAssignment(a)
	r.db.assignments.rows[a.ID] = a
	return cloneAssignment(a), nil
}

// --- daily stage production ---

type dailyRepo struct{ db *DB }

func (r dailyRepo) find(assignmentID int64, day time.Time, shift domain.Shift) (int64, bool) {
	for id, d := range r.db.daily.rows {
		if d.StageAssignmentID == assignmentID && d.ProductionDate.Equal(day) && d.Shift == shift {
			return id, true
		}
	}
	return 0, false
}

func (r dailyRepo) Upsert(_ context.Context, d domain.DailyStageProduction) (domain.DailyStageProduction, bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	d = cloneDaily(d)
	d.ProductionDate = domain.ProductionDay(d.ProductionDate)
	if id, ok := r.find(d.StageAssignmentID, d.ProductionDate, d.Shift); ok {
		cur := r.db.daily.rows[id]
		d.ID = id
		d.CreatedAt = cur.CreatedAt
		r.db.daily.rows[id] = d
		return cloneDaily(d), false, nil
	}
	d.ID = r.db.daily.next()
	r.db.daily.rows[d.ID] = d
	return cloneDaily(d), true, nil
}

func (r dailyRepo) Get(_ context.Context, id int64) (domain.DailyStageProduction, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	d, ok := r.db.daily.rows[id]
	if !ok {
		return domain.DailyStageProduction{}, repository.ErrNotFound
	}
	return cloneDaily(d), nil
}

func (r dailyRepo) Find(_ context.Context, assignmentID int64, day time.Time, shift domain.Shift) (domain.DailyStageProduction, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	id, ok := r.find(assignmentID, domain.ProductionDay(day), shift)
	if !ok {
		return domain.DailyStageProduction{}, repository.ErrNotFound
	}
	return cloneDaily(r.db.daily.rows[id]), nil
}

func (r dailyRepo) List(_ context.Context, f repository.DailyProductionFilter) ([]domain.DailyStageProduction, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	ids := r.db.daily.sorted(func(d domain.DailyStageProduction) bool {
		if f.StageAssignmentID != nil && d.StageAssignmentID != *f.StageAssignmentID {
			return false
		}
		if f.ProductionDate != nil && !d.ProductionDate.Equal(domain.ProductionDay(*f.ProductionDate)) {
			return false
		}
		return f.Shift == nil || d.Shift == *f.Shift
	})
	out := make([]domain.DailyStageProduction, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneDaily(r.db.daily.rows[id]))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ProductionDate.After(out[j].ProductionDate)
	})
	return out, nil
}

func (r dailyRepo) Update(_ context.Context, d domain.DailyStageProduction) (domain.DailyStageProduction, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	cur, ok := r.db.daily.rows[d.ID]
	if !ok {
		return domain.DailyStageProduction{}, repository.ErrNotFound
	}
	d = cloneDaily(d)
	d.StageAssignmentID, d.ProductionDate, d.Shift = cur.StageAssignmentID, cur.ProductionDate, cur.Shift
	d.CreatedAt = cur.CreatedAt
	r.db.daily.rows[d.ID] = d
	return cloneDaily(d), nil
}

// --- stage device mappings ---

type deviceRepo struct{ db *DB }

// activeConflict returns the constraint another active mapping would share
// with m, or "".
func (r deviceRepo) activeConflict(m domain.StageDeviceMapping) string {
	if !m.IsActive {
		return ""
	}
	for id, other := range r.db.devices.rows {
		if id == m.ID || !other.IsActive {
			continue
		}
		if other.IotDeviceID == m.IotDeviceID {
			return repository.ConstraintActiveDevice
		}
		if other.ProductionLineID == m.ProductionLineID && other.Stage == m.Stage {
			return repository.ConstraintActiveLineStage
		}
	}
	return ""
}

func (r deviceRepo) Create(_ context.Context, m domain.StageDeviceMapping) (domain.StageDeviceMapping, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	m = cloneDevice(m)
	m.ID = 0
	if c := r.activeConflict(m); c != "" {
		return domain.StageDeviceMapping{}, unique(c)
	}
	m.ID = r.db.devices.next()
	r.db.devices.rows[m.ID] = m
	return cloneDevice(m), nil
}

func (r deviceRepo) Get(_ context.Context, id int64) (domain.StageDeviceMapping, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	m, ok := r.db.devices.rows[id]
	if !ok {
		return domain.StageDeviceMapping{}, repository.ErrNotFound
	}
	return cloneDevice(m), nil
}

func (r deviceRepo) List(_ context.Context, f repository.DeviceMappingFilter) ([]domain.StageDeviceMapping, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	ids := r.db.devices.sorted(func(m domain.StageDeviceMapping) bool {
		if f.ProductionLineID != nil && m.ProductionLineID != *f.ProductionLineID {
			return false
		}
		return f.IsActive == nil || m.IsActive == *f.IsActive
	})
	out := make([]domain.StageDeviceMapping, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneDevice(r.db.devices.rows[id]))
	}
	return out, nil
}

func (r deviceRepo) Update(_ context.Context, m domain.StageDeviceMapping, expectedActive bool) (domain.StageDeviceMapping, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	cur, ok := r.db.devices.rows[m.ID]
	if !ok {
		return domain.StageDeviceMapping{}, repository.ErrNotFound
	}
	if cur.IsActive != expectedActive {
		return domain.StageDeviceMapping{}, repository.ErrStale
	}
	if c := r.activeConflict(m); c != "" {
		return domain.StageDeviceMapping{}, unique(c)
	}
	m = cloneDevice(m)
	m.CreatedAt = cur.CreatedAt
	r.db.devices.rows[m.ID] = m
	return cloneDevice(m), nil
}
