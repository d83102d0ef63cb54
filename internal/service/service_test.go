package service

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/VicenzaTech/psm-backend/internal/cache"
	"github.com/VicenzaTech/psm-backend/internal/domain"
	apperrors "github.com/VicenzaTech/psm-backend/internal/pkg/errors"
	"github.com/VicenzaTech/psm-backend/internal/pkg/logger"
	"github.com/VicenzaTech/psm-backend/internal/repository"
	"github.com/VicenzaTech/psm-backend/internal/repository/memory"
)

func TestMain(m *testing.M) {
	logger.Replace(zap.NewNop())
	os.Exit(m.Run())
}

var testNow = time.Date(2024, 3, 5, 7, 30, 0, 0, time.UTC)

// countingWorkshops counts List calls that reach the repository.
type countingWorkshops struct {
	repository.WorkshopRepository
	lists atomic.Int32
}

func (c *countingWorkshops) List(ctx context.Context, f repository.WorkshopFilter) ([]domain.Workshop, error) {
	c.lists.Add(1)
	return c.WorkshopRepository.List(ctx, f)
}

// countingBrickTypes counts Get calls that reach the repository.
type countingBrickTypes struct {
	repository.BrickTypeRepository
	gets atomic.Int32
}

func (c *countingBrickTypes) Get(ctx context.Context, id int64) (domain.BrickType, error) {
	c.gets.Add(1)
	return c.BrickTypeRepository.Get(ctx, id)
}

type fixture struct {
	deps       Deps
	workshops  *countingWorkshops
	brickTypes *countingBrickTypes

	workshopSvc  *WorkshopService
	lineSvc      *ProductionLineService
	brickTypeSvc *BrickTypeService
	dailySvc     *DailyProductionService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repos := memory.New()
	f := &fixture{
		workshops:  &countingWorkshops{WorkshopRepository: repos.Workshops},
		brickTypes: &countingBrickTypes{BrickTypeRepository: repos.BrickTypes},
	}
	repos.Workshops = f.workshops
	repos.BrickTypes = f.brickTypes
	f.deps = Deps{
		Repos: repos,
		Cache: cache.New(cache.NewMemoryStore(), nil),
		Now:   func() time.Time { return testNow },
	}
	f.workshopSvc = NewWorkshopService(f.deps)
	f.lineSvc = NewProductionLineService(f.deps, f.workshopSvc)
	f.brickTypeSvc = NewBrickTypeService(f.deps)
	f.dailySvc = NewDailyProductionService(f.deps)
	return f
}

func (f *fixture) workshop(t *testing.T, code string) domain.Workshop {
	t.Helper()
	res, err := f.workshopSvc.Create(context.Background(), WorkshopInput{Code: code, Name: "Workshop " + code}, "admin")
	require.NoError(t, err)
	return res.Data
}

func boolPtr(b bool) *bool    { return &b }
func int64Ptr(v int64) *int64 { return &v }
func strPtr(s string) *string { return &s }

func TestDeps_WithDefaults(t *testing.T) {
	t.Parallel()

	d := Deps{}.WithDefaults()
	assert.Equal(t, cache.DefaultListTTL, d.ListTTL)
	assert.Equal(t, cache.DefaultEntityTTL, d.EntityTTL)
	require.NotNil(t, d.Now)
	assert.Equal(t, time.UTC, d.Now().Location())

	custom := Deps{ListTTL: time.Second, EntityTTL: 2 * time.Second}.WithDefaults()
	assert.Equal(t, time.Second, custom.ListTTL)
	assert.Equal(t, 2*time.Second, custom.EntityTTL)
}

func TestActiveOrDefault(t *testing.T) {
	t.Parallel()

	assert.True(t, ActiveOrDefault(nil))
	assert.True(t, ActiveOrDefault(boolPtr(true)))
	assert.False(t, ActiveOrDefault(boolPtr(false)))
	assert.Equal(t, "", IDToken(nil))
	assert.Equal(t, "42", IDToken(int64Ptr(42)))
}

func TestWorkshopService_CreateAndDuplicateCode(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.workshopSvc.Create(ctx, WorkshopInput{Code: " WS-A ", Name: "Press hall"}, "admin")
	require.NoError(t, err)
	assert.Equal(t, "WS-A", res.Data.Code)
	assert.True(t, res.Data.IsActive)
	assert.Equal(t, testNow, res.Data.CreatedAt)
	assert.Equal(t, domain.ActionCreateWorkshop, res.Change.Action)
	assert.Equal(t, domain.EntityWorkshop, res.Change.EntityType)
	require.NotNil(t, res.Change.EntityID)
	assert.Equal(t, res.Data.ID, *res.Change.EntityID)
	assert.Equal(t, "admin", res.Change.Actor)

	_, err = f.workshopSvc.Create(ctx, WorkshopInput{Code: "WS-A", Name: "Other"}, "admin")
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeWorkshopCodeExists, appErr.Code)
	assert.Equal(t, apperrors.KindConflict, appErr.Kind)

	_, err = f.workshopSvc.Create(ctx, WorkshopInput{Code: "  ", Name: "Blank"}, "admin")
	appErr, ok = apperrors.IsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeValidationFailed, appErr.Code)
}

func TestWorkshopService_ListCachesOnlyDefaultQuery(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.workshop(t, "WS-1")

	for i := 0; i < 3; i++ {
		list, err := f.workshopSvc.List(ctx, nil)
		require.NoError(t, err)
		require.Len(t, list, 1)
	}
	assert.Equal(t, int32(1), f.workshops.lists.Load())

	// isActive=true is the same canonical query.
	_, err := f.workshopSvc.List(ctx, boolPtr(true))
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.workshops.lists.Load())

	// isActive=false bypasses the cache every time.
	for i := 0; i < 2; i++ {
		inactive, err := f.workshopSvc.List(ctx, boolPtr(false))
		require.NoError(t, err)
		assert.Empty(t, inactive)
	}
	assert.Equal(t, int32(3), f.workshops.lists.Load())
}

func TestWorkshopService_MutationsInvalidateList(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	w := f.workshop(t, "WS-1")

	list, err := f.workshopSvc.List(ctx, nil)
	require.NoError(t, err)
	require.Len(t, list, 1)

	res, err := f.workshopSvc.Update(ctx, w.ID, WorkshopPatch{Name: strPtr("Kiln hall")}, "admin")
	require.NoError(t, err)
	assert.Equal(t, domain.ActionUpdateWorkshop, res.Change.Action)

	list, err = f.workshopSvc.List(ctx, nil)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Kiln hall", list[0].Name)

	disabled, err := f.workshopSvc.Disable(ctx, w.ID, "admin")
	require.NoError(t, err)
	assert.False(t, disabled.Data.IsActive)
	assert.Equal(t, domain.ActionDisableWorkshop, disabled.Change.Action)

	list, err = f.workshopSvc.List(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, list)

	inactive, err := f.workshopSvc.List(ctx, boolPtr(false))
	require.NoError(t, err)
	require.Len(t, inactive, 1)
}

func TestWorkshopService_GetNotFound(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.workshopSvc.Get(context.Background(), 99)
	assert.True(t, apperrors.IsNotFound(err))
	appErr, _ := apperrors.IsAppError(err)
	assert.Equal(t, apperrors.CodeWorkshopNotFound, appErr.Code)
}

func TestProductionLineService_CreateRequiresActiveWorkshop(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	w := f.workshop(t, "WS-1")

	_, err := f.lineSvc.Create(ctx, ProductionLineInput{WorkshopID: 404, Code: "L1", Name: "Line 1"}, "admin")
	assert.True(t, apperrors.IsNotFound(err))

	line, err := f.lineSvc.Create(ctx, ProductionLineInput{WorkshopID: w.ID, Code: "L1", Name: "Line 1"}, "admin")
	require.NoError(t, err)
	assert.Equal(t, domain.ActionCreateProductionLine, line.Change.Action)
	assert.Equal(t, w.ID, line.Change.Metadata["workshopId"])

	_, err = f.lineSvc.Create(ctx, ProductionLineInput{WorkshopID: w.ID, Code: "L1", Name: "Dup"}, "admin")
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeProductionLineCodeExists, appErr.Code)

	_, err = f.workshopSvc.Disable(ctx, w.ID, "admin")
	require.NoError(t, err)
	_, err = f.lineSvc.Create(ctx, ProductionLineInput{WorkshopID: w.ID, Code: "L2", Name: "Line 2"}, "admin")
	appErr, ok = apperrors.IsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeParentInactive, appErr.Code)
}

func TestProductionLineService_UpdateMovesBetweenWorkshops(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	w1 := f.workshop(t, "WS-1")
	w2 := f.workshop(t, "WS-2")

	a, err := f.lineSvc.Create(ctx, ProductionLineInput{WorkshopID: w1.ID, Code: "L1", Name: "Line 1"}, "admin")
	require.NoError(t, err)
	_, err = f.lineSvc.Create(ctx, ProductionLineInput{WorkshopID: w2.ID, Code: "L1", Name: "Line 1 (hall 2)"}, "admin")
	require.NoError(t, err)

	// Same code in the target workshop.
	_, err = f.lineSvc.Update(ctx, a.Data.ID, ProductionLinePatch{WorkshopID: &w2.ID}, "admin")
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeProductionLineCodeExists, appErr.Code)

	moved, err := f.lineSvc.Update(ctx, a.Data.ID, ProductionLinePatch{WorkshopID: &w2.ID, Code: strPtr("L9")}, "admin")
	require.NoError(t, err)
	assert.Equal(t, w2.ID, moved.Data.WorkshopID)
	assert.Equal(t, "L9", moved.Data.Code)

	_, err = f.workshopSvc.Disable(ctx, w1.ID, "admin")
	require.NoError(t, err)
	_, err = f.lineSvc.Update(ctx, a.Data.ID, ProductionLinePatch{WorkshopID: &w1.ID}, "admin")
	appErr, ok = apperrors.IsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeParentInactive, appErr.Code)
}

func TestProductionLineService_ListFiltersAndEnsureActive(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	w1 := f.workshop(t, "WS-1")
	w2 := f.workshop(t, "WS-2")

	l1, err := f.lineSvc.Create(ctx, ProductionLineInput{WorkshopID: w1.ID, Code: "L1", Name: "Line 1"}, "admin")
	require.NoError(t, err)
	_, err = f.lineSvc.Create(ctx, ProductionLineInput{WorkshopID: w2.ID, Code: "L2", Name: "Line 2"}, "admin")
	require.NoError(t, err)

	all, err := f.lineSvc.List(ctx, nil, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	inW1, err := f.lineSvc.List(ctx, &w1.ID, nil)
	require.NoError(t, err)
	require.Len(t, inW1, 1)
	assert.Equal(t, l1.Data.ID, inW1[0].ID)

	_, err = f.lineSvc.EnsureActive(ctx, l1.Data.ID)
	require.NoError(t, err)

	_, err = f.lineSvc.Disable(ctx, l1.Data.ID, "admin")
	require.NoError(t, err)
	_, err = f.lineSvc.EnsureActive(ctx, l1.Data.ID)
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeParentInactive, appErr.Code)

	all, err = f.lineSvc.List(ctx, nil, nil)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestBrickTypeService_GetIsCachedAndForgottenOnUpdate(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.brickTypeSvc.Create(ctx, BrickTypeInput{Code: "BT-1", Name: "Granite", Type: "granite"}, "admin")
	require.NoError(t, err)
	id := created.Data.ID

	for i := 0; i < 3; i++ {
		b, err := f.brickTypeSvc.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "Granite", b.Name)
	}
	assert.Equal(t, int32(1), f.brickTypes.gets.Load())

	_, err = f.brickTypeSvc.Update(ctx, id, BrickTypePatch{Name: strPtr("Granite matt")}, "admin")
	require.NoError(t, err)
	before := f.brickTypes.gets.Load()

	b, err := f.brickTypeSvc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Granite matt", b.Name)
	assert.Equal(t, before+1, f.brickTypes.gets.Load())
}

func TestBrickTypeService_NotFoundIsNotCached(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.brickTypeSvc.Get(ctx, 77)
		assert.True(t, apperrors.IsNotFound(err))
	}
	assert.Equal(t, int32(2), f.brickTypes.gets.Load())
}

func TestBrickTypeService_ListByType(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.brickTypeSvc.Create(ctx, BrickTypeInput{Code: "BT-1", Name: "Granite", Type: "granite"}, "admin")
	require.NoError(t, err)
	ceramic, err := f.brickTypeSvc.Create(ctx, BrickTypeInput{Code: "BT-2", Name: "Ceramic", Type: "ceramic"}, "admin")
	require.NoError(t, err)

	all, err := f.brickTypeSvc.List(ctx, "", nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	onlyCeramic, err := f.brickTypeSvc.List(ctx, "ceramic", nil)
	require.NoError(t, err)
	require.Len(t, onlyCeramic, 1)
	assert.Equal(t, ceramic.Data.ID, onlyCeramic[0].ID)

	disabled, err := f.brickTypeSvc.Disable(ctx, ceramic.Data.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, domain.ActionDisableBrickType, disabled.Change.Action)

	all, err = f.brickTypeSvc.List(ctx, "", nil)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = f.brickTypeSvc.Create(ctx, BrickTypeInput{Code: "BT-1", Name: "Again"}, "admin")
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeBrickTypeCodeExists, appErr.Code)
}
