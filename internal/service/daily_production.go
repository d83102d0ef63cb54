package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/VicenzaTech/psm-backend/internal/domain"
	apperrors "github.com/VicenzaTech/psm-backend/internal/pkg/errors"
	"github.com/VicenzaTech/psm-backend/internal/repository"
)

// DailyProductionInput records one day's figures for a stage assignment.
// A zero ProductionDate means today (UTC). Nil counters keep the stored ones.
type DailyProductionInput struct {
	StageAssignmentID int64             `json:"stageAssignmentId"`
	ProductionDate    time.Time         `json:"productionDate"`
	Shift             domain.Shift      `json:"shift"`
	StartCounter      *int64            `json:"startCounter"`
	EndCounter        *int64            `json:"endCounter"`
	ActualQuantity    int64             `json:"actualQuantity"`
	WasteQuantity     int64             `json:"wasteQuantity"`
	DataSource        domain.DataSource `json:"dataSource"`
	RecordedBy        string            `json:"recordedBy"`
	Notes             string            `json:"notes"`
}

// DailyProductionService records per-day, per-shift stage output. Rows are
// written far more often than read, so nothing here is cached.
type DailyProductionService struct {
	deps Deps
}

// NewDailyProductionService creates a new DailyProductionService.
func NewDailyProductionService(deps Deps) *DailyProductionService {
	return &DailyProductionService{deps: deps.WithDefaults()}
}

// Upsert creates or overwrites the row for (assignment, day, shift).
func (s *DailyProductionService) Upsert(ctx context.Context, in DailyProductionInput, actor string) (domain.Result[domain.DailyStageProduction], error) {
	if in.ActualQuantity < 0 || in.WasteQuantity < 0 {
		return domain.Result[domain.DailyStageProduction]{},
			apperrors.ErrValidationf("actualQuantity", "actualQuantity and wasteQuantity must be greater than or equal to 0")
	}
	if !in.Shift.Valid() {
		return domain.Result[domain.DailyStageProduction]{}, apperrors.ErrValidationf("shift", "unknown shift %q", in.Shift)
	}
	if in.DataSource == "" {
		in.DataSource = domain.DataSourceManualInput
	}
	if !in.DataSource.Valid() {
		return domain.Result[domain.DailyStageProduction]{}, apperrors.ErrValidationf("dataSource", "unknown data source %q", in.DataSource)
	}
	if err := s.ensureAssignment(ctx, in.StageAssignmentID); err != nil {
		return domain.Result[domain.DailyStageProduction]{}, err
	}

	now := s.deps.Now()
	day := in.ProductionDate
	if day.IsZero() {
		day = now
	}
	rec := domain.DailyStageProduction{
		StageAssignmentID: in.StageAssignmentID,
		ProductionDate:    domain.ProductionDay(day),
		Shift:             in.Shift,
		StartCounter:      in.StartCounter,
		EndCounter:        in.EndCounter,
		ActualQuantity:    in.ActualQuantity,
		WasteQuantity:     in.WasteQuantity,
		DataSource:        in.DataSource,
		RecordedBy:        in.RecordedBy,
		Notes:             in.Notes,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if rec.RecordedBy == "" {
		rec.RecordedBy = actor
	}

	existing, err := s.deps.Repos.DailyProductions.Find(ctx, rec.StageAssignmentID, rec.ProductionDate, rec.Shift)
	switch {
	case err == nil:
		if rec.StartCounter == nil {
			rec.StartCounter = existing.StartCounter
		}
		if rec.EndCounter == nil {
			rec.EndCounter = existing.EndCounter
		}
	case !errors.Is(err, repository.ErrNotFound):
		return domain.Result[domain.DailyStageProduction]{}, fmt.Errorf("find daily production: %w", err)
	}

	out, inserted, err := s.deps.Repos.DailyProductions.Upsert(ctx, rec)
	if err != nil {
		return domain.Result[domain.DailyStageProduction]{}, fmt.Errorf("upsert daily production: %w", err)
	}

	action := domain.ActionAdjustDailyProduction
	verb := "updated"
	if inserted {
		action, verb = domain.ActionImportDailyProduction, "created"
	}
	if out.DataSource == domain.DataSourceAutoSync {
		action = domain.ActionSyncDailyProduction
	}
	change := domain.NewChange(action, domain.EntityDailyStageProduction, out.ID,
		fmt.Sprintf("Daily production %s for stage assignment %d", verb, out.StageAssignmentID)).
		WithMeta("stageAssignmentId", out.StageAssignmentID).
		WithMeta("productionDate", out.ProductionDate.Format(time.DateOnly)).
		By(actor)
	return domain.Result[domain.DailyStageProduction]{Data: out, Change: change}, nil
}

// StartShift records the counter reading at the start of today's shift. A
// start counter that is already recorded is kept.
func (s *DailyProductionService) StartShift(ctx context.Context, assignmentID int64, shift domain.Shift, startCounter int64, actor string) (domain.Result[domain.DailyStageProduction], error) {
	if !shift.Valid() {
		return domain.Result[domain.DailyStageProduction]{}, apperrors.ErrValidationf("shift", "unknown shift %q", shift)
	}
	if startCounter < 0 {
		return domain.Result[domain.DailyStageProduction]{}, apperrors.ErrValidationf("startCounter", "startCounter must be greater than or equal to 0")
	}
	if err := s.ensureAssignment(ctx, assignmentID); err != nil {
		return domain.Result[domain.DailyStageProduction]{}, err
	}

	now := s.deps.Now()
	day := domain.ProductionDay(now)
	rec, err := s.deps.Repos.DailyProductions.Find(ctx, assignmentID, day, shift)
	switch {
	case err == nil:
		if rec.StartCounter == nil {
			rec.StartCounter = &startCounter
			rec.DataSource = domain.DataSourceAutoSync
			rec.RecordedBy = actor
			rec.UpdatedAt = now
			if rec, err = s.deps.Repos.DailyProductions.Update(ctx, rec); err != nil {
				return domain.Result[domain.DailyStageProduction]{}, fmt.Errorf("update daily production: %w", err)
			}
		}
	case errors.Is(err, repository.ErrNotFound):
		if rec, _, err = s.deps.Repos.DailyProductions.Upsert(ctx, domain.DailyStageProduction{
			StageAssignmentID: assignmentID,
			ProductionDate:    day,
			Shift:             shift,
			StartCounter:      &startCounter,
			DataSource:        domain.DataSourceAutoSync,
			RecordedBy:        actor,
			CreatedAt:         now,
			UpdatedAt:         now,
		}); err != nil {
			return domain.Result[domain.DailyStageProduction]{}, fmt.Errorf("create daily production: %w", err)
		}
	default:
		return domain.Result[domain.DailyStageProduction]{}, fmt.Errorf("find daily production: %w", err)
	}

	change := domain.NewChange(domain.ActionSyncDailyProduction, domain.EntityDailyStageProduction, rec.ID,
		fmt.Sprintf("Start counter %d recorded for stage assignment %d", startCounter, assignmentID)).
		WithMeta("shift", string(shift)).
		By(actor)
	return domain.Result[domain.DailyStageProduction]{Data: rec, Change: change}, nil
}

// RecordCounter applies a running counter total to today's shift row, which
// StartShift must have created. The actual quantity is the distance from the
// start counter, floored at zero.
func (s *DailyProductionService) RecordCounter(ctx context.Context, assignmentID int64, shift domain.Shift, counterTotal int64) (domain.Result[domain.DailyStageProduction], error) {
	now := s.deps.Now()
	day := domain.ProductionDay(now)
	rec, err := s.deps.Repos.DailyProductions.Find(ctx, assignmentID, day, shift)
	if errors.Is(err, repository.ErrNotFound) {
		return domain.Result[domain.DailyStageProduction]{}, apperrors.NotFound(apperrors.CodeDailyProductionNotFound,
			fmt.Sprintf("no daily production for stage assignment %d on %s shift %q; start the shift first",
				assignmentID, day.Format(time.DateOnly), shift)).
			WithParams(map[string]interface{}{"stage_assignment_id": assignmentID, "shift": string(shift)})
	}
	if err != nil {
		return domain.Result[domain.DailyStageProduction]{}, fmt.Errorf("find daily production: %w", err)
	}

	start := counterTotal
	if rec.StartCounter != nil {
		start = *rec.StartCounter
	}
	rec.EndCounter = &counterTotal
	rec.ActualQuantity = max(0, counterTotal-start)
	rec.DataSource = domain.DataSourceAutoSync
	rec.UpdatedAt = now
	if rec, err = s.deps.Repos.DailyProductions.Update(ctx, rec); err != nil {
		return domain.Result[domain.DailyStageProduction]{}, fmt.Errorf("update daily production: %w", err)
	}

	change := domain.NewChange(domain.ActionSyncDailyProduction, domain.EntityDailyStageProduction, rec.ID,
		fmt.Sprintf("Daily production for stage assignment %d updated from counter total %d", assignmentID, counterTotal))
	change.Source = domain.SourceSystem
	return domain.Result[domain.DailyStageProduction]{Data: rec, Change: change}, nil
}

// List returns rows newest day first.
func (s *DailyProductionService) List(ctx context.Context, f repository.DailyProductionFilter) ([]domain.DailyStageProduction, error) {
	out, err := s.deps.Repos.DailyProductions.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list daily production: %w", err)
	}
	return out, nil
}

// Get returns a row by id.
func (s *DailyProductionService) Get(ctx context.Context, id int64) (domain.DailyStageProduction, error) {
	d, err := s.deps.Repos.DailyProductions.Get(ctx, id)
	if err != nil {
		return domain.DailyStageProduction{}, lookupError(err, apperrors.CodeDailyProductionNotFound, "DailyStageProduction", id)
	}
	return d, nil
}

func (s *DailyProductionService) ensureAssignment(ctx context.Context, id int64) error {
	if _, err := s.deps.Repos.StageAssignments.Get(ctx, id); err != nil {
		return lookupError(err, apperrors.CodeStageAssignmentNotFound, "StageAssignment", id)
	}
	return nil
}
