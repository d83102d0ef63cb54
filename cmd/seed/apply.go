package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/VicenzaTech/psm-backend/internal/domain"
	"github.com/VicenzaTech/psm-backend/internal/governance/audit"
	"github.com/VicenzaTech/psm-backend/internal/pkg/logger"
	"github.com/VicenzaTech/psm-backend/internal/service"
)

// Summary counts what Apply did.
type Summary struct {
	Created   int
	Updated   int
	Unchanged int
}

func (s Summary) String() string {
	return fmt.Sprintf("%d created, %d updated, %d unchanged", s.Created, s.Updated, s.Unchanged)
}

// Seeder loads a Catalog through the same services the API uses, so codes,
// parent checks and cache invalidation behave exactly as for API writes.
// Apply is idempotent: rows are matched by code, and only name and
// description are brought in line with the file.
type Seeder struct {
	Workshops  *service.WorkshopService
	Lines      *service.ProductionLineService
	BrickTypes *service.BrickTypeService
	// Sink receives the change records. Nil discards them.
	Sink  audit.Sink
	Actor string
}

// Apply writes c.
func (s *Seeder) Apply(ctx context.Context, c *Catalog) (Summary, error) {
	var sum Summary

	workshops, err := listBoth(func(active *bool) ([]domain.Workshop, error) {
		return s.Workshops.List(ctx, active)
	})
	if err != nil {
		return sum, fmt.Errorf("list workshops: %w", err)
	}
	byCode := make(map[string]domain.Workshop, len(workshops))
	for _, w := range workshops {
		byCode[w.Code] = w
	}

	for _, ws := range c.Workshops {
		w, ok := byCode[ws.Code]
		switch {
		case !ok:
			res, err := s.Workshops.Create(ctx, service.WorkshopInput{Code: ws.Code, Name: ws.Name, Description: ws.Description}, s.Actor)
			if err != nil {
				return sum, fmt.Errorf("create workshop %s: %w", ws.Code, err)
			}
			s.record(ctx, res.Changes())
			w = res.Data
			sum.Created++
		case w.Name != ws.Name || w.Description != ws.Description:
			res, err := s.Workshops.Update(ctx, w.ID, service.WorkshopPatch{Name: &ws.Name, Description: &ws.Description}, s.Actor)
			if err != nil {
				return sum, fmt.Errorf("update workshop %s: %w", ws.Code, err)
			}
			s.record(ctx, res.Changes())
			w = res.Data
			sum.Updated++
		default:
			sum.Unchanged++
		}

		if err := s.applyLines(ctx, w, ws.Lines, &sum); err != nil {
			return sum, err
		}
	}

	if err := s.applyBrickTypes(ctx, c.BrickTypes, &sum); err != nil {
		return sum, err
	}
	return sum, nil
}

func (s *Seeder) applyLines(ctx context.Context, w domain.Workshop, seeds []LineSeed, sum *Summary) error {
	if len(seeds) == 0 {
		return nil
	}
	lines, err := listBoth(func(active *bool) ([]domain.ProductionLine, error) {
		return s.Lines.List(ctx, &w.ID, active)
	})
	if err != nil {
		return fmt.Errorf("list lines of workshop %s: %w", w.Code, err)
	}
	byCode := make(map[string]domain.ProductionLine, len(lines))
	for _, l := range lines {
		byCode[l.Code] = l
	}

	for _, ls := range seeds {
		l, ok := byCode[ls.Code]
		switch {
		case !ok:
			res, err := s.Lines.Create(ctx, service.ProductionLineInput{
				WorkshopID:  w.ID,
				Code:        ls.Code,
				Name:        ls.Name,
				Description: ls.Description,
			}, s.Actor)
			if err != nil {
				return fmt.Errorf("create line %s/%s: %w", w.Code, ls.Code, err)
			}
			s.record(ctx, res.Changes())
			sum.Created++
		case l.Name != ls.Name || l.Description != ls.Description:
			res, err := s.Lines.Update(ctx, l.ID, service.ProductionLinePatch{Name: &ls.Name, Description: &ls.Description}, s.Actor)
			if err != nil {
				return fmt.Errorf("update line %s/%s: %w", w.Code, ls.Code, err)
			}
			s.record(ctx, res.Changes())
			sum.Updated++
		default:
			sum.Unchanged++
		}
	}
	return nil
}

func (s *Seeder) applyBrickTypes(ctx context.Context, seeds []BrickTypeSeed, sum *Summary) error {
	if len(seeds) == 0 {
		return nil
	}
	existing, err := listBoth(func(active *bool) ([]domain.BrickType, error) {
		return s.BrickTypes.List(ctx, "", active)
	})
	if err != nil {
		return fmt.Errorf("list brick types: %w", err)
	}
	byCode := make(map[string]domain.BrickType, len(existing))
	for _, b := range existing {
		byCode[b.Code] = b
	}

	for _, bs := range seeds {
		b, ok := byCode[bs.Code]
		switch {
		case !ok:
			res, err := s.BrickTypes.Create(ctx, service.BrickTypeInput{
				Code:        bs.Code,
				Name:        bs.Name,
				Type:        bs.Type,
				Description: bs.Description,
			}, s.Actor)
			if err != nil {
				return fmt.Errorf("create brick type %s: %w", bs.Code, err)
			}
			s.record(ctx, res.Changes())
			sum.Created++
		case b.Name != bs.Name || b.Type != bs.Type || b.Description != bs.Description:
			res, err := s.BrickTypes.Update(ctx, b.ID, service.BrickTypePatch{
				Name:        &bs.Name,
				Type:        &bs.Type,
				Description: &bs.Description,
			}, s.Actor)
			if err != nil {
				return fmt.Errorf("update brick type %s: %w", bs.Code, err)
			}
			s.record(ctx, res.Changes())
			sum.Updated++
		default:
			sum.Unchanged++
		}
	}
	return nil
}

// record hands change records to the sink. Failures are logged, never returned.
func (s *Seeder) record(ctx context.Context, records []domain.ChangeRecord) {
	if s.Sink == nil {
		return
	}
	for _, rec := range records {
		if err := s.Sink.Write(ctx, rec); err != nil {
			logger.Warn("seed change record not delivered",
				zap.String("action", rec.Action),
				zap.Error(err),
			)
		}
	}
}

// listBoth returns active rows followed by disabled ones.
func listBoth[T any](list func(active *bool) ([]T, error)) ([]T, error) {
	active, inactive := true, false
	out, err := list(&active)
	if err != nil {
		return nil, err
	}
	rest, err := list(&inactive)
	if err != nil {
		return nil, err
	}
	return append(out, rest...), nil
}
