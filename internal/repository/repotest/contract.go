// Package repotest holds the behaviour every repository implementation must
// share. Backends run it from their own tests.
package repotest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VicenzaTech/psm-backend/internal/domain"
	"github.com/VicenzaTech/psm-backend/internal/repository"
)

// Factory returns repositories over an empty store.
type Factory func(t *testing.T) repository.Repositories

var t0 = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

// Run executes the contract suite against newRepos.
func Run(t *testing.T, newRepos Factory) {
	t.Run("catalog uniqueness", func(t *testing.T) { testCatalogUniqueness(t, newRepos(t)) })
	t.Run("catalog filters", func(t *testing.T) { testCatalogFilters(t, newRepos(t)) })
	t.Run("plan round trip", func(t *testing.T) { testPlanRoundTrip(t, newRepos(t)) })
	t.Run("plan conditional update", func(t *testing.T) { testPlanConditionalUpdate(t, newRepos(t)) })
	t.Run("plan delete cascades", func(t *testing.T) { testPlanDelete(t, newRepos(t)) })
	t.Run("plan list order and filter", func(t *testing.T) { testPlanList(t, newRepos(t)) })
	t.Run("active stage is unique", func(t *testing.T) { testActiveStageUnique(t, newRepos(t)) })
	t.Run("assignment conditional update", func(t *testing.T) { testAssignmentConditionalUpdate(t, newRepos(t)) })
	t.Run("concurrent stage claims", func(t *testing.T) { testConcurrentStageClaims(t, newRepos(t)) })
	t.Run("daily production upsert", func(t *testing.T) { testDailyUpsert(t, newRepos(t)) })
	t.Run("device mapping round trip", func(t *testing.T) { testDeviceMappingRoundTrip(t, newRepos(t)) })
	t.Run("active device mappings are unique", func(t *testing.T) { testDeviceMappingUnique(t, newRepos(t)) })
	t.Run("device mapping conditional update", func(t *testing.T) { testDeviceMappingConditionalUpdate(t, newRepos(t)) })
}

// Fixture is a workshop, an active line in it and a brick type.
type Fixture struct {
	Workshop  domain.Workshop
	Line      domain.ProductionLine
	BrickType domain.BrickType
}

// SeedCatalog creates a Fixture.
func SeedCatalog(t *testing.T, repos repository.Repositories) Fixture {
	t.Helper()
	ctx := context.Background()

	w, err := repos.Workshops.Create(ctx, domain.Workshop{Code: "WS-1", Name: "Workshop 1", IsActive: true, CreatedAt: t0, UpdatedAt: t0})
	require.NoError(t, err)
	l, err := repos.ProductionLines.Create(ctx, domain.ProductionLine{WorkshopID: w.ID, Code: "L-1", Name: "Line 1", IsActive: true, CreatedAt: t0, UpdatedAt: t0})
	require.NoError(t, err)
	b, err := repos.BrickTypes.Create(ctx, domain.BrickType{Code: "BT-1", Name: "Granite 60x60", Type: "granite", IsActive: true, CreatedAt: t0, UpdatedAt: t0})
	require.NoError(t, err)
	return Fixture{Workshop: w, Line: l, BrickType: b}
}

func newPlan(f Fixture, code string) domain.ProductionPlan {
	return domain.ProductionPlan{
		PlanCode:         code,
		ProductionLineID: f.Line.ID,
		BrickTypeID:      f.BrickType.ID,
		TargetQuantity:   1000,
		StartDate:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:          time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		Customer:         "Acme",
		Status:           domain.PlanStatusDraft,
		CreatedBy:        "planner",
		CreatedAt:        t0,
		UpdatedAt:        t0,
	}
}

func newAssignment(p domain.ProductionPlan, stage domain.Stage) domain.StageAssignment {
	return domain.StageAssignment{
		ProductionPlanID: p.ID,
		ProductionLineID: p.ProductionLineID,
		BrickTypeID:      p.BrickTypeID,
		Stage:            stage,
		Status:           domain.StageStatusWaiting,
		IsActive:         true,
		CreatedBy:        "planner",
		CreatedAt:        t0,
		UpdatedAt:        t0,
	}
}

func testCatalogUniqueness(t *testing.T, repos repository.Repositories) {
	ctx := context.Background()
	f := SeedCatalog(t, repos)

	_, err := repos.Workshops.Create(ctx, domain.Workshop{Code: "WS-1", Name: "dup", CreatedAt: t0, UpdatedAt: t0})
	require.ErrorIs(t, err, repository.ErrUniqueViolation)
	assert.Equal(t, repository.ConstraintWorkshopCode, repository.ViolatedConstraint(err))

	_, err = repos.ProductionLines.Create(ctx, domain.ProductionLine{WorkshopID: f.Workshop.ID, Code: "L-1", Name: "dup", CreatedAt: t0, UpdatedAt: t0})
	require.ErrorIs(t, err, repository.ErrUniqueViolation)
	assert.Equal(t, repository.ConstraintProductionLineCode, repository.ViolatedConstraint(err))

	other, err := repos.Workshops.Create(ctx, domain.Workshop{Code: "WS-2", Name: "Workshop 2", IsActive: true, CreatedAt: t0, UpdatedAt: t0})
	require.NoError(t, err)
	_, err = repos.ProductionLines.Create(ctx, domain.ProductionLine{WorkshopID: other.ID, Code: "L-1", Name: "same code, other workshop", CreatedAt: t0, UpdatedAt: t0})
	require.NoError(t, err)

	_, err = repos.BrickTypes.Create(ctx, domain.BrickType{Code: "BT-1", Name: "dup", CreatedAt: t0, UpdatedAt: t0})
	require.ErrorIs(t, err, repository.ErrUniqueViolation)

	_, err = repos.Workshops.Get(ctx, 999999)
	require.ErrorIs(t, err, repository.ErrNotFound)

	f.Workshop.Code = "WS-2"
	_, err = repos.Workshops.Update(ctx, f.Workshop)
	require.ErrorIs(t, err, repository.ErrUniqueViolation)
}

func testCatalogFilters(t *testing.T, repos repository.Repositories) {
	ctx := context.Background()
	f := SeedCatalog(t, repos)

	f.Line.IsActive = false
	f.Line.UpdatedAt = t0.Add(time.Hour)
	updated, err := repos.ProductionLines.Update(ctx, f.Line)
	require.NoError(t, err)
	assert.False(t, updated.IsActive)
	assert.True(t, updated.CreatedAt.Equal(t0))

	active := true
	lines, err := repos.ProductionLines.List(ctx, repository.ProductionLineFilter{IsActive: &active})
	require.NoError(t, err)
	assert.Empty(t, lines)

	lines, err = repos.ProductionLines.List(ctx, repository.ProductionLineFilter{WorkshopID: &f.Workshop.ID})
	require.NoError(t, err)
	require.Len(t, lines, 1)

	types, err := repos.BrickTypes.List(ctx, repository.BrickTypeFilter{Type: "granite"})
	require.NoError(t, err)
	assert.Len(t, types, 1)
	types, err = repos.BrickTypes.List(ctx, repository.BrickTypeFilter{Type: "ceramic"})
	require.NoError(t, err)
	assert.Empty(t, types)
}

func testPlanRoundTrip(t *testing.T, repos repository.Repositories) {
	ctx := context.Background()
	f := SeedCatalog(t, repos)

	created, err := repos.Plans.Create(ctx, newPlan(f, "P-001"))
	require.NoError(t, err)
	require.NotZero(t, created.ID)

	got, err := repos.Plans.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, got)
	assert.EqualValues(t, 1000, got.TargetQuantity)

	byCode, err := repos.Plans.GetByCode(ctx, "P-001")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byCode.ID)

	_, err = repos.Plans.Create(ctx, newPlan(f, "P-001"))
	require.ErrorIs(t, err, repository.ErrUniqueViolation)
	assert.Equal(t, repository.ConstraintPlanCode, repository.ViolatedConstraint(err))
}

func testPlanConditionalUpdate(t *testing.T, repos repository.Repositories) {
	ctx := context.Background()
	f := SeedCatalog(t, repos)
	p, err := repos.Plans.Create(ctx, newPlan(f, "P-002"))
	require.NoError(t, err)

	approvedAt := t0.Add(time.Hour)
	next := p
	next.Status = domain.PlanStatusApproved
	next.ApprovedBy = "manager"
	next.ApprovedAt = &approvedAt
	next.UpdatedAt = approvedAt

	updated, err := repos.Plans.Update(ctx, next, domain.PlanStatusDraft)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanStatusApproved, updated.Status)
	require.NotNil(t, updated.ApprovedAt)
	assert.True(t, updated.ApprovedAt.Equal(approvedAt))

	_, err = repos.Plans.Update(ctx, next, domain.PlanStatusDraft)
	require.ErrorIs(t, err, repository.ErrStale)

	next.ID = 999999
	_, err = repos.Plans.Update(ctx, next, domain.PlanStatusDraft)
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func testPlanDelete(t *testing.T, repos repository.Repositories) {
	ctx := context.Background()
	f := SeedCatalog(t, repos)
	p, err := repos.Plans.Create(ctx, newPlan(f, "P-003"))
	require.NoError(t, err)
	a, err := repos.StageAssignments.Create(ctx, newAssignment(p, domain.StageMai))
	require.NoError(t, err)

	err = repos.Plans.Delete(ctx, p.ID, domain.PlanStatusCancelled)
	require.ErrorIs(t, err, repository.ErrStale)

	require.NoError(t, repos.Plans.Delete(ctx, p.ID, domain.PlanStatusDraft, domain.PlanStatusCancelled))
	_, err = repos.Plans.Get(ctx, p.ID)
	require.ErrorIs(t, err, repository.ErrNotFound)
	_, err = repos.StageAssignments.Get(ctx, a.ID)
	require.ErrorIs(t, err, repository.ErrNotFound)

	// The stage is free again once its holder is gone.
	p2, err := repos.Plans.Create(ctx, newPlan(f, "P-004"))
	require.NoError(t, err)
	_, err = repos.StageAssignments.Create(ctx, newAssignment(p2, domain.StageMai))
	require.NoError(t, err)

	require.ErrorIs(t, repos.Plans.Delete(ctx, p.ID, domain.PlanStatusDraft), repository.ErrNotFound)
}

func testPlanList(t *testing.T, repos repository.Repositories) {
	ctx := context.Background()
	f := SeedCatalog(t, repos)
	first, err := repos.Plans.Create(ctx, newPlan(f, "P-010"))
	require.NoError(t, err)
	second := newPlan(f, "P-011")
	second.Customer = "Globex"
	second, err = repos.Plans.Create(ctx, second)
	require.NoError(t, err)

	all, err := repos.Plans.List(ctx, repository.PlanFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID, "plans are listed newest first")
	assert.Equal(t, first.ID, all[1].ID)

	globex, err := repos.Plans.List(ctx, repository.PlanFilter{Customer: "Globex"})
	require.NoError(t, err)
	require.Len(t, globex, 1)
	assert.Equal(t, "P-011", globex[0].PlanCode)

	approved, err := repos.Plans.List(ctx, repository.PlanFilter{Status: domain.PlanStatusApproved})
	require.NoError(t, err)
	assert.Empty(t, approved)
}

func testActiveStageUnique(t *testing.T, repos repository.Repositories) {
	ctx := context.Background()
	f := SeedCatalog(t, repos)
	p1, err := repos.Plans.Create(ctx, newPlan(f, "P-020"))
	require.NoError(t, err)
	p2, err := repos.Plans.Create(ctx, newPlan(f, "P-021"))
	require.NoError(t, err)

	holder, err := repos.StageAssignments.Create(ctx, newAssignment(p1, domain.StageEP))
	require.NoError(t, err)

	_, err = repos.StageAssignments.Create(ctx, newAssignment(p2, domain.StageEP))
	require.ErrorIs(t, err, repository.ErrUniqueViolation)
	assert.Equal(t, repository.ConstraintActiveStage, repository.ViolatedConstraint(err))

	found, err := repos.StageAssignments.FindActiveByStage(ctx, domain.StageEP)
	require.NoError(t, err)
	assert.Equal(t, holder.ID, found.ID)

	_, err = repos.StageAssignments.Create(ctx, newAssignment(p2, domain.StageNung))
	require.NoError(t, err)

	expected := repository.StateOf(holder)
	holder.IsActive = false
	holder.Status = domain.StageStatusStopped
	end := t0.Add(time.Hour)
	holder.EndTime = &end
	_, err = repos.StageAssignments.Update(ctx, holder, expected)
	require.NoError(t, err)

	_, err = repos.StageAssignments.FindActiveByStage(ctx, domain.StageEP)
	require.ErrorIs(t, err, repository.ErrNotFound)

	taken, err := repos.StageAssignments.Create(ctx, newAssignment(p2, domain.StageEP))
	require.NoError(t, err)

	// Reactivating the old row would create a second active EP.
	stopped := repository.StateOf(holder)
	holder.IsActive = true
	_, err = repos.StageAssignments.Update(ctx, holder, stopped)
	require.ErrorIs(t, err, repository.ErrUniqueViolation)

	list, err := repos.StageAssignments.List(ctx, repository.StageAssignmentFilter{ProductionPlanIDs: []int64{p2.ID}})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Less(t, list[0].ID, list[1].ID)
	assert.Equal(t, taken.ID, list[1].ID)
}

func testAssignmentConditionalUpdate(t *testing.T, repos repository.Repositories) {
	ctx := context.Background()
	f := SeedCatalog(t, repos)
	p, err := repos.Plans.Create(ctx, newPlan(f, "P-030"))
	require.NoError(t, err)
	a, err := repos.StageAssignments.Create(ctx, newAssignment(p, domain.StageMai))
	require.NoError(t, err)
	loaded := repository.StateOf(a)

	// A disable lands first.
	stopped := a
	stopped.IsActive = false
	stopped.Status = domain.StageStatusStopped
	_, err = repos.StageAssignments.Update(ctx, stopped, loaded)
	require.NoError(t, err)

	// The writer holding the old snapshot must not resurrect the row.
	running := a
	running.Status = domain.StageStatusRunning
	_, err = repos.StageAssignments.Update(ctx, running, loaded)
	require.ErrorIs(t, err, repository.ErrStale)

	got, err := repos.StageAssignments.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.Equal(t, domain.StageStatusStopped, got.Status)

	running.ID = 999999
	_, err = repos.StageAssignments.Update(ctx, running, loaded)
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func testConcurrentStageClaims(t *testing.T, repos repository.Repositories) {
	ctx := context.Background()
	f := SeedCatalog(t, repos)

	const claimants = 8
	plans := make([]domain.ProductionPlan, claimants)
	for i := range plans {
		p, err := repos.Plans.Create(ctx, newPlan(f, "P-C"+string(rune('A'+i))))
		require.NoError(t, err)
		plans[i] = p
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		won      int
		conflict int
	)
	for _, p := range plans {
		wg.Add(1)
		go func(p domain.ProductionPlan) {
			defer wg.Done()
			_, err := repos.StageAssignments.Create(ctx, newAssignment(p, domain.StageDongHop))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				won++
			case repository.ViolatedConstraint(err) == repository.ConstraintActiveStage:
				conflict++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(p)
	}
	wg.Wait()

	assert.Equal(t, 1, won)
	assert.Equal(t, claimants-1, conflict)
}

func testDailyUpsert(t *testing.T, repos repository.Repositories) {
	ctx := context.Background()
	f := SeedCatalog(t, repos)
	p, err := repos.Plans.Create(ctx, newPlan(f, "P-030"))
	require.NoError(t, err)
	a, err := repos.StageAssignments.Create(ctx, newAssignment(p, domain.StageNungMen))
	require.NoError(t, err)

	day := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	rec := domain.DailyStageProduction{
		StageAssignmentID: a.ID,
		ProductionDate:    day.Add(15 * time.Hour),
		Shift:             domain.ShiftA,
		ActualQuantity:    120,
		DataSource:        domain.DataSourceManualInput,
		RecordedBy:        "operator",
		CreatedAt:         t0,
		UpdatedAt:         t0,
	}
	first, inserted, err := repos.DailyProductions.Upsert(ctx, rec)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.True(t, first.ProductionDate.Equal(day))

	rec.ActualQuantity = 150
	rec.DataSource = domain.DataSourceAdjusted
	second, inserted, err := repos.DailyProductions.Upsert(ctx, rec)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, first.ID, second.ID)
	assert.EqualValues(t, 150, second.ActualQuantity)

	rec.Shift = domain.ShiftB
	_, inserted, err = repos.DailyProductions.Upsert(ctx, rec)
	require.NoError(t, err)
	assert.True(t, inserted)

	found, err := repos.DailyProductions.Find(ctx, a.ID, day, domain.ShiftA)
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)

	_, err = repos.DailyProductions.Find(ctx, a.ID, day, domain.ShiftC)
	require.ErrorIs(t, err, repository.ErrNotFound)

	shiftA := domain.ShiftA
	list, err := repos.DailyProductions.List(ctx, repository.DailyProductionFilter{StageAssignmentID: &a.ID, Shift: &shiftA})
	require.NoError(t, err)
	require.Len(t, list, 1)

	start := int64(1000)
	found.StartCounter = &start
	found.UpdatedAt = t0.Add(time.Hour)
	updated, err := repos.DailyProductions.Update(ctx, found)
	require.NoError(t, err)
	require.NotNil(t, updated.StartCounter)
	assert.EqualValues(t, 1000, *updated.StartCounter)
}

func newDeviceMapping(f Fixture, stage domain.Stage, deviceID string) domain.StageDeviceMapping {
	return domain.StageDeviceMapping{
		ProductionLineID:     f.Line.ID,
		Stage:                stage,
		MeasurementPosition:  4,
		IotDeviceID:          deviceID,
		IotMeasurementTypeID: 1,
		IsActive:             true,
		CreatedAt:            t0,
		UpdatedAt:            t0,
	}
}

func testDeviceMappingRoundTrip(t *testing.T, repos repository.Repositories) {
	ctx := context.Background()
	f := SeedCatalog(t, repos)

	m, err := repos.DeviceMappings.Create(ctx, newDeviceMapping(f, domain.StageEP, "CNT-1"))
	require.NoError(t, err)
	assert.NotZero(t, m.ID)
	assert.Nil(t, m.StageLiveStatus)

	running := domain.StageStatusRunning
	m.StageLiveStatus = &running
	m.MeasurementPosition = 9
	m.UpdatedAt = t0.Add(time.Hour)
	_, err = repos.DeviceMappings.Update(ctx, m, true)
	require.NoError(t, err)

	got, err := repos.DeviceMappings.Get(ctx, m.ID)
	require.NoError(t, err)
	require.NotNil(t, got.StageLiveStatus)
	assert.Equal(t, domain.StageStatusRunning, *got.StageLiveStatus)
	assert.Equal(t, int64(9), got.MeasurementPosition)
	assert.True(t, got.CreatedAt.Equal(t0))
	assert.True(t, got.UpdatedAt.Equal(t0.Add(time.Hour)))

	_, err = repos.DeviceMappings.Get(ctx, 999999)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	inactive := newDeviceMapping(f, domain.StageMai, "CNT-2")
	inactive.IsActive = false
	_, err = repos.DeviceMappings.Create(ctx, inactive)
	require.NoError(t, err)

	all, err := repos.DeviceMappings.List(ctx, repository.DeviceMappingFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Less(t, all[0].ID, all[1].ID)

	active := true
	onlyActive, err := repos.DeviceMappings.List(ctx, repository.DeviceMappingFilter{ProductionLineID: &f.Line.ID, IsActive: &active})
	require.NoError(t, err)
	require.Len(t, onlyActive, 1)
	assert.Equal(t, "CNT-1", onlyActive[0].IotDeviceID)
}

func testDeviceMappingUnique(t *testing.T, repos repository.Repositories) {
	ctx := context.Background()
	f := SeedCatalog(t, repos)

	first, err := repos.DeviceMappings.Create(ctx, newDeviceMapping(f, domain.StageEP, "CNT-1"))
	require.NoError(t, err)

	_, err = repos.DeviceMappings.Create(ctx, newDeviceMapping(f, domain.StageNung, "CNT-1"))
	assert.Equal(t, repository.ConstraintActiveDevice, repository.ViolatedConstraint(err))

	_, err = repos.DeviceMappings.Create(ctx, newDeviceMapping(f, domain.StageEP, "CNT-2"))
	assert.Equal(t, repository.ConstraintActiveLineStage, repository.ViolatedConstraint(err))

	parked := newDeviceMapping(f, domain.StageEP, "CNT-1")
	parked.IsActive = false
	parked, err = repos.DeviceMappings.Create(ctx, parked)
	require.NoError(t, err, "inactive mappings may repeat a device and a line stage")

	parked.IsActive = true
	_, err = repos.DeviceMappings.Update(ctx, parked, false)
	assert.ErrorIs(t, err, repository.ErrUniqueViolation)

	first.IsActive = false
	_, err = repos.DeviceMappings.Update(ctx, first, true)
	require.NoError(t, err)
	_, err = repos.DeviceMappings.Update(ctx, parked, false)
	require.NoError(t, err, "the device and line stage are free once the holder is inactive")
}

func testDeviceMappingConditionalUpdate(t *testing.T, repos repository.Repositories) {
	ctx := context.Background()
	f := SeedCatalog(t, repos)

	m, err := repos.DeviceMappings.Create(ctx, newDeviceMapping(f, domain.StageEP, "CNT-1"))
	require.NoError(t, err)
	snapshot := m

	m.IsActive = false
	_, err = repos.DeviceMappings.Update(ctx, m, true)
	require.NoError(t, err)

	snapshot.MeasurementPosition = 42
	_, err = repos.DeviceMappings.Update(ctx, snapshot, true)
	assert.ErrorIs(t, err, repository.ErrStale)

	got, err := repos.DeviceMappings.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.Equal(t, int64(4), got.MeasurementPosition)

	snapshot.ID = 999999
	_, err = repos.DeviceMappings.Update(ctx, snapshot, true)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
