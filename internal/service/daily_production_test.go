package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VicenzaTech/psm-backend/internal/domain"
	apperrors "github.com/VicenzaTech/psm-backend/internal/pkg/errors"
	"github.com/VicenzaTech/psm-backend/internal/repository"
	"github.com/VicenzaTech/psm-backend/internal/repository/repotest"
)

// seedAssignment creates a plan with one EP assignment directly in the store.
func seedAssignment(t *testing.T, f *fixture) domain.StageAssignment {
	t.Helper()
	ctx := context.Background()
	cat := repotest.SeedCatalog(t, f.deps.Repos)

	plan, err := f.deps.Repos.Plans.Create(ctx, domain.ProductionPlan{
		PlanCode:         "P-001",
		ProductionLineID: cat.Line.ID,
		BrickTypeID:      cat.BrickType.ID,
		TargetQuantity:   5000,
		StartDate:        time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		EndDate:          time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		Status:           domain.PlanStatusApproved,
		CreatedBy:        "planner",
		CreatedAt:        testNow,
		UpdatedAt:        testNow,
	})
	require.NoError(t, err)

	a, err := f.deps.Repos.StageAssignments.Create(ctx, domain.StageAssignment{
		ProductionPlanID: plan.ID,
		ProductionLineID: plan.ProductionLineID,
		BrickTypeID:      plan.BrickTypeID,
		Stage:            domain.StageEP,
		Status:           domain.StageStatusRunning,
		IsActive:         true,
		CreatedBy:        "planner",
		CreatedAt:        testNow,
		UpdatedAt:        testNow,
	})
	require.NoError(t, err)
	return a
}

func TestDailyProductionService_UpsertInsertsThenAdjusts(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	a := seedAssignment(t, f)

	created, err := f.dailySvc.Upsert(ctx, DailyProductionInput{
		StageAssignmentID: a.ID,
		Shift:             domain.ShiftA,
		ActualQuantity:    120,
		WasteQuantity:     3,
	}, "operator")
	require.NoError(t, err)
	assert.Equal(t, domain.ActionImportDailyProduction, created.Change.Action)
	assert.Equal(t, domain.ProductionDay(testNow), created.Data.ProductionDate)
	assert.Equal(t, domain.DataSourceManualInput, created.Data.DataSource)
	assert.Equal(t, "operator", created.Data.RecordedBy)

	adjusted, err := f.dailySvc.Upsert(ctx, DailyProductionInput{
		StageAssignmentID: a.ID,
		Shift:             domain.ShiftA,
		ActualQuantity:    118,
		WasteQuantity:     5,
		DataSource:        domain.DataSourceAdjusted,
		RecordedBy:        "supervisor",
	}, "operator")
	require.NoError(t, err)
	assert.Equal(t, domain.ActionAdjustDailyProduction, adjusted.Change.Action)
	assert.Equal(t, created.Data.ID, adjusted.Data.ID)
	assert.Equal(t, int64(118), adjusted.Data.ActualQuantity)
	assert.Equal(t, "supervisor", adjusted.Data.RecordedBy)

	synced, err := f.dailySvc.Upsert(ctx, DailyProductionInput{
		StageAssignmentID: a.ID,
		Shift:             domain.ShiftB,
		ActualQuantity:    10,
		DataSource:        domain.DataSourceAutoSync,
	}, "gateway")
	require.NoError(t, err)
	assert.Equal(t, domain.ActionSyncDailyProduction, synced.Change.Action)
	assert.NotEqual(t, created.Data.ID, synced.Data.ID)
}

func TestDailyProductionService_UpsertValidation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	a := seedAssignment(t, f)

	tests := []struct {
		name string
		in   DailyProductionInput
		code string
	}{
		{
			name: "negative quantity",
			in:   DailyProductionInput{StageAssignmentID: a.ID, ActualQuantity: -1},
			code: apperrors.CodeValidationFailed,
		},
		{
			name: "unknown shift",
			in:   DailyProductionInput{StageAssignmentID: a.ID, Shift: "D"},
			code: apperrors.CodeValidationFailed,
		},
		{
			name: "unknown data source",
			in:   DailyProductionInput{StageAssignmentID: a.ID, DataSource: "scanner"},
			code: apperrors.CodeValidationFailed,
		},
		{
			name: "missing assignment",
			in:   DailyProductionInput{StageAssignmentID: 999},
			code: apperrors.CodeStageAssignmentNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.dailySvc.Upsert(ctx, tt.in, "operator")
			appErr, ok := apperrors.IsAppError(err)
			require.True(t, ok, "got %v", err)
			assert.Equal(t, tt.code, appErr.Code)
		})
	}
}

func TestDailyProductionService_UpsertKeepsCounters(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	a := seedAssignment(t, f)

	_, err := f.dailySvc.StartShift(ctx, a.ID, domain.ShiftA, 1000, "gateway")
	require.NoError(t, err)

	res, err := f.dailySvc.Upsert(ctx, DailyProductionInput{
		StageAssignmentID: a.ID,
		Shift:             domain.ShiftA,
		ActualQuantity:    50,
	}, "operator")
	require.NoError(t, err)
	require.NotNil(t, res.Data.StartCounter)
	assert.Equal(t, int64(1000), *res.Data.StartCounter)
}

func TestDailyProductionService_ShiftCounters(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	a := seedAssignment(t, f)

	_, err := f.dailySvc.RecordCounter(ctx, a.ID, domain.ShiftA, 1200)
	assert.True(t, apperrors.IsNotFound(err))

	started, err := f.dailySvc.StartShift(ctx, a.ID, domain.ShiftA, 1000, "gateway")
	require.NoError(t, err)
	assert.Equal(t, domain.ActionSyncDailyProduction, started.Change.Action)
	require.NotNil(t, started.Data.StartCounter)
	assert.Equal(t, int64(1000), *started.Data.StartCounter)

	again, err := f.dailySvc.StartShift(ctx, a.ID, domain.ShiftA, 1100, "gateway")
	require.NoError(t, err)
	assert.Equal(t, started.Data.ID, again.Data.ID)
	assert.Equal(t, int64(1000), *again.Data.StartCounter, "start counter is recorded once")

	counted, err := f.dailySvc.RecordCounter(ctx, a.ID, domain.ShiftA, 1250)
	require.NoError(t, err)
	assert.Equal(t, int64(250), counted.Data.ActualQuantity)
	require.NotNil(t, counted.Data.EndCounter)
	assert.Equal(t, int64(1250), *counted.Data.EndCounter)
	assert.Equal(t, domain.SourceSystem, counted.Change.Source)

	// A counter reset never produces negative output.
	reset, err := f.dailySvc.RecordCounter(ctx, a.ID, domain.ShiftA, 10)
	require.NoError(t, err)
	assert.Zero(t, reset.Data.ActualQuantity)
}

func TestDailyProductionService_ListAndGet(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	a := seedAssignment(t, f)

	yesterday := testNow.AddDate(0, 0, -1)
	_, err := f.dailySvc.Upsert(ctx, DailyProductionInput{StageAssignmentID: a.ID, ProductionDate: yesterday, ActualQuantity: 1}, "op")
	require.NoError(t, err)
	today, err := f.dailySvc.Upsert(ctx, DailyProductionInput{StageAssignmentID: a.ID, ActualQuantity: 2}, "op")
	require.NoError(t, err)

	all, err := f.dailySvc.List(ctx, repository.DailyProductionFilter{StageAssignmentID: &a.ID})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, today.Data.ID, all[0].ID, "newest day first")

	day := domain.ProductionDay(yesterday)
	onlyYesterday, err := f.dailySvc.List(ctx, repository.DailyProductionFilter{ProductionDate: &day})
	require.NoError(t, err)
	require.Len(t, onlyYesterday, 1)

	got, err := f.dailySvc.Get(ctx, today.Data.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.ActualQuantity)

	_, err = f.dailySvc.Get(ctx, 12345)
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeDailyProductionNotFound, appErr.Code)
}
