package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/VicenzaTech/psm-backend/internal/cache"
	"github.com/VicenzaTech/psm-backend/internal/domain"
	apperrors "github.com/VicenzaTech/psm-backend/internal/pkg/errors"
	"github.com/VicenzaTech/psm-backend/internal/repository"
)

// ProductionLineInput creates a production line.
type ProductionLineInput struct {
	WorkshopID  int64  `json:"workshopId"`
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ProductionLinePatch updates a production line. Nil fields are left unchanged.
type ProductionLinePatch struct {
	WorkshopID  *int64  `json:"workshopId"`
	Code        *string `json:"code"`
	Name        *string `json:"name"`
	Description *string `json:"description"`
	IsActive    *bool   `json:"isActive"`
}

// ProductionLineService manages production lines. A line can only be
// created under, or moved to, an active workshop.
type ProductionLineService struct {
	deps      Deps
	workshops *WorkshopService
}

// NewProductionLineService creates a new ProductionLineService.
func NewProductionLineService(deps Deps, workshops *WorkshopService) *ProductionLineService {
	return &ProductionLineService{deps: deps.WithDefaults(), workshops: workshops}
}

// Create adds an active line to an active workshop.
func (s *ProductionLineService) Create(ctx context.Context, in ProductionLineInput, actor string) (domain.Result[domain.ProductionLine], error) {
	code, err := required("code", in.Code)
	if err != nil {
		return domain.Result[domain.ProductionLine]{}, err
	}
	name, err := required("name", in.Name)
	if err != nil {
		return domain.Result[domain.ProductionLine]{}, err
	}
	if _, err := s.workshops.EnsureActive(ctx, in.WorkshopID); err != nil {
		return domain.Result[domain.ProductionLine]{}, err
	}

	now := s.deps.Now()
	l, err := s.deps.Repos.ProductionLines.Create(ctx, domain.ProductionLine{
		WorkshopID:  in.WorkshopID,
		Code:        code,
		Name:        name,
		Description: in.Description,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return domain.Result[domain.ProductionLine]{}, lineWriteError(err, in.WorkshopID, code)
	}
	s.deps.Cache.Invalidate(ctx, cache.ScopeProductionLines)

	return domain.Result[domain.ProductionLine]{
		Data:   l,
		Change: lineChange(domain.ActionCreateProductionLine, l, "created").By(actor),
	}, nil
}

// List returns lines ordered by id. isActive defaults to true. Only the
// default query without a workshop filter is cached.
func (s *ProductionLineService) List(ctx context.Context, workshopID *int64, isActive *bool) ([]domain.ProductionLine, error) {
	active := ActiveOrDefault(isActive)
	sig := cache.Signature(map[string]string{
		"isActive":   activeToken(active),
		"workshopId": IDToken(workshopID),
	})
	return cache.ReadThrough(ctx, s.deps.Cache, cache.ScopeProductionLines, sig, s.deps.ListTTL,
		func(ctx context.Context) ([]domain.ProductionLine, error) {
			return s.deps.Repos.ProductionLines.List(ctx, repository.ProductionLineFilter{
				WorkshopID: workshopID,
				IsActive:   &active,
			})
		})
}

// Get returns a line by id.
func (s *ProductionLineService) Get(ctx context.Context, id int64) (domain.ProductionLine, error) {
	l, err := s.deps.Repos.ProductionLines.Get(ctx, id)
	if err != nil {
		return domain.ProductionLine{}, lookupError(err, apperrors.CodeProductionLineNotFound, "ProductionLine", id)
	}
	return l, nil
}

// EnsureExists is Get for callers that only validate a reference.
func (s *ProductionLineService) EnsureExists(ctx context.Context, id int64) (domain.ProductionLine, error) {
	return s.Get(ctx, id)
}

// EnsureActive fails with PARENT_INACTIVE when the line is disabled.
func (s *ProductionLineService) EnsureActive(ctx context.Context, id int64) (domain.ProductionLine, error) {
	l, err := s.Get(ctx, id)
	if err != nil {
		return domain.ProductionLine{}, err
	}
	if !l.IsActive {
		return domain.ProductionLine{}, apperrors.Conflict(apperrors.CodeParentInactive,
			fmt.Sprintf("production line %d is disabled", id)).
			WithParams(map[string]interface{}{"production_line_id": id})
	}
	return l, nil
}

// Update applies patch to line id. Moving the line re-validates the target
// workshop; the code must stay unique within the resulting workshop.
func (s *ProductionLineService) Update(ctx context.Context, id int64, patch ProductionLinePatch, actor string) (domain.Result[domain.ProductionLine], error) {
	l, err := s.Get(ctx, id)
	if err != nil {
		return domain.Result[domain.ProductionLine]{}, err
	}
	code, err := optionalTrim("code", patch.Code)
	if err != nil {
		return domain.Result[domain.ProductionLine]{}, err
	}
	name, err := optionalTrim("name", patch.Name)
	if err != nil {
		return domain.Result[domain.ProductionLine]{}, err
	}
	if patch.WorkshopID != nil && *patch.WorkshopID != l.WorkshopID {
		if _, err := s.workshops.EnsureActive(ctx, *patch.WorkshopID); err != nil {
			return domain.Result[domain.ProductionLine]{}, err
		}
		l.WorkshopID = *patch.WorkshopID
	}
	if code != nil {
		l.Code = *code
	}
	if name != nil {
		l.Name = *name
	}
	if patch.Description != nil {
		l.Description = *patch.Description
	}
	if patch.IsActive != nil {
		l.IsActive = *patch.IsActive
	}
	return s.write(ctx, l, domain.ActionUpdateProductionLine, "updated", actor)
}

// Disable soft-deletes line id. Existing plans keep referencing it but no
// new plan can target it.
func (s *ProductionLineService) Disable(ctx context.Context, id int64, actor string) (domain.Result[domain.ProductionLine], error) {
	l, err := s.Get(ctx, id)
	if err != nil {
		return domain.Result[domain.ProductionLine]{}, err
	}
	l.IsActive = false
	return s.write(ctx, l, domain.ActionDisableProductionLine, "disabled", actor)
}

func (s *ProductionLineService) write(ctx context.Context, l domain.ProductionLine, action, verb, actor string) (domain.Result[domain.ProductionLine], error) {
	l.UpdatedAt = s.deps.Now()
	out, err := s.deps.Repos.ProductionLines.Update(ctx, l)
	if err != nil {
		return domain.Result[domain.ProductionLine]{}, lineWriteError(err, l.WorkshopID, l.Code)
	}
	s.deps.Cache.Invalidate(ctx, cache.ScopeProductionLines)
	return domain.Result[domain.ProductionLine]{
		Data:   out,
		Change: lineChange(action, out, verb).By(actor),
	}, nil
}

func lineChange(action string, l domain.ProductionLine, verb string) domain.ChangeRecord {
	return domain.NewChange(action, domain.EntityProductionLine, l.ID,
		fmt.Sprintf("Production line %s %s", l.Name, verb)).
		Named(l.Name).
		WithMeta("workshopId", l.WorkshopID)
}

func lineWriteError(err error, workshopID int64, code string) error {
	switch {
	case repository.ViolatedConstraint(err) == repository.ConstraintProductionLineCode:
		return apperrors.Conflict(apperrors.CodeProductionLineCodeExists,
			fmt.Sprintf("production line code %q already exists in workshop %d", code, workshopID)).
			WithParams(map[string]interface{}{"code": code, "workshop_id": workshopID})
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NotFound(apperrors.CodeProductionLineNotFound, "production line or workshop not found")
	}
	return fmt.Errorf("write production line: %w", err)
}
