package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VicenzaTech/psm-backend/internal/domain"
	"github.com/VicenzaTech/psm-backend/internal/repository"
	"github.com/VicenzaTech/psm-backend/internal/repository/repotest"
)

func TestMemoryRepositories_Contract(t *testing.T) {
	repotest.Run(t, func(*testing.T) repository.Repositories { return New() })
}

func TestMemoryRepositories_ReturnedRecordsAreCopies(t *testing.T) {
	ctx := context.Background()
	repos := New()
	f := repotest.SeedCatalog(t, repos)

	p, err := repos.Plans.Create(ctx, domain.ProductionPlan{
		PlanCode: "P-100", ProductionLineID: f.Line.ID, BrickTypeID: f.BrickType.ID, Status: domain.PlanStatusDraft,
	})
	require.NoError(t, err)

	target := int64(10)
	a, err := repos.StageAssignments.Create(ctx, domain.StageAssignment{
		ProductionPlanID: p.ID, Stage: domain.StageEP, Status: domain.StageStatusWaiting, IsActive: true, TargetQuantity: &target,
	})
	require.NoError(t, err)

	*a.TargetQuantity = 99
	target = 42

	got, err := repos.StageAssignments.Get(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, got.TargetQuantity)
	assert.EqualValues(t, 10, *got.TargetQuantity)
}

func TestMemoryRepositories_UpdateKeepsImmutableAssignmentFields(t *testing.T) {
	ctx := context.Background()
	repos := New()

	a, err := repos.StageAssignments.Create(ctx, domain.StageAssignment{
		ProductionPlanID: 1, Stage: domain.StageMai, Status: domain.StageStatusWaiting, IsActive: true, CreatedBy: "alice",
	})
	require.NoError(t, err)

	expected := repository.StateOf(a)
	a.Stage = domain.StageEP
	a.ProductionPlanID = 7
	a.CreatedBy = "mallory"
	a.Status = domain.StageStatusRunning
	updated, err := repos.StageAssignments.Update(ctx, a, expected)
	require.NoError(t, err)

	assert.Equal(t, domain.StageMai, updated.Stage)
	assert.EqualValues(t, 1, updated.ProductionPlanID)
	assert.Equal(t, "alice", updated.CreatedBy)
	assert.Equal(t, domain.StageStatusRunning, updated.Status)
}
