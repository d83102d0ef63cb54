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

// WorkshopInput creates a workshop.
type WorkshopInput struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// WorkshopPatch updates a workshop. Nil fields are left unchanged.
type WorkshopPatch struct {
	Code        *string `json:"code"`
	Name        *string `json:"name"`
	Description *string `json:"description"`
	IsActive    *bool   `json:"isActive"`
}

// WorkshopService manages workshops.
type WorkshopService struct {
	deps Deps
}

// NewWorkshopService creates a new WorkshopService.
func NewWorkshopService(deps Deps) *WorkshopService {
	return &WorkshopService{deps: deps.WithDefaults()}
}

// Create adds an active workshop. A duplicate code is a conflict.
func (s *WorkshopService) Create(ctx context.Context, in WorkshopInput, actor string) (domain.Result[domain.Workshop], error) {
	code, err := required("code", in.Code)
	if err != nil {
		return domain.Result[domain.Workshop]{}, err
	}
	name, err := required("name", in.Name)
	if err != nil {
		return domain.Result[domain.Workshop]{}, err
	}

	now := s.deps.Now()
	w, err := s.deps.Repos.Workshops.Create(ctx, domain.Workshop{
		Code:        code,
		Name:        name,
		Description: in.Description,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return domain.Result[domain.Workshop]{}, workshopWriteError(err, code)
	}
	s.deps.Cache.Invalidate(ctx, cache.ScopeWorkshops)

	return domain.Result[domain.Workshop]{
		Data:   w,
		Change: workshopChange(domain.ActionCreateWorkshop, w, "created").By(actor),
	}, nil
}

// List returns workshops ordered by id. isActive defaults to true; only that
// default query is cached.
func (s *WorkshopService) List(ctx context.Context, isActive *bool) ([]domain.Workshop, error) {
	active := ActiveOrDefault(isActive)
	sig := cache.Signature(map[string]string{"isActive": activeToken(active)})
	return cache.ReadThrough(ctx, s.deps.Cache, cache.ScopeWorkshops, sig, s.deps.ListTTL,
		func(ctx context.Context) ([]domain.Workshop, error) {
			return s.deps.Repos.Workshops.List(ctx, repository.WorkshopFilter{IsActive: &active})
		})
}

// Get returns a workshop by id.
func (s *WorkshopService) Get(ctx context.Context, id int64) (domain.Workshop, error) {
	w, err := s.deps.Repos.Workshops.Get(ctx, id)
	if err != nil {
		return domain.Workshop{}, lookupError(err, apperrors.CodeWorkshopNotFound, "Workshop", id)
	}
	return w, nil
}

// EnsureExists is Get for callers that only validate a reference.
func (s *WorkshopService) EnsureExists(ctx context.Context, id int64) (domain.Workshop, error) {
	return s.Get(ctx, id)
}

// EnsureActive fails with PARENT_INACTIVE when the workshop is disabled.
func (s *WorkshopService) EnsureActive(ctx context.Context, id int64) (domain.Workshop, error) {
	w, err := s.Get(ctx, id)
	if err != nil {
		return domain.Workshop{}, err
	}
	if !w.IsActive {
		return domain.Workshop{}, apperrors.Conflict(apperrors.CodeParentInactive,
			fmt.Sprintf("workshop %d is disabled", id)).
			WithParams(map[string]interface{}{"workshop_id": id})
	}
	return w, nil
}

// Update applies patch to workshop id.
func (s *WorkshopService) Update(ctx context.Context, id int64, patch WorkshopPatch, actor string) (domain.Result[domain.Workshop], error) {
	w, err := s.Get(ctx, id)
	if err != nil {
		return domain.Result[domain.Workshop]{}, err
	}
	code, err := optionalTrim("code", patch.Code)
	if err != nil {
		return domain.Result[domain.Workshop]{}, err
	}
	name, err := optionalTrim("name", patch.Name)
	if err != nil {
		return domain.Result[domain.Workshop]{}, err
	}
	if code != nil {
		w.Code = *code
	}
	if name != nil {
		w.Name = *name
	}
	if patch.Description != nil {
		w.Description = *patch.Description
	}
	if patch.IsActive != nil {
		w.IsActive = *patch.IsActive
	}
	return s.write(ctx, w, domain.ActionUpdateWorkshop, "updated", actor)
}

// Disable soft-deletes workshop id.
func (s *WorkshopService) Disable(ctx context.Context, id int64, actor string) (domain.Result[domain.Workshop], error) {
	w, err := s.Get(ctx, id)
	if err != nil {
		return domain.Result[domain.Workshop]{}, err
	}
	w.IsActive = false
	return s.write(ctx, w, domain.ActionDisableWorkshop, "disabled", actor)
}

func (s *WorkshopService) write(ctx context.Context, w domain.Workshop, action, verb, actor string) (domain.Result[domain.Workshop], error) {
	w.UpdatedAt = s.deps.Now()
	out, err := s.deps.Repos.Workshops.Update(ctx, w)
	if err != nil {
		return domain.Result[domain.Workshop]{}, workshopWriteError(err, w.Code)
	}
	s.deps.Cache.Invalidate(ctx, cache.ScopeWorkshops)
	return domain.Result[domain.Workshop]{
		Data:   out,
		Change: workshopChange(action, out, verb).By(actor),
	}, nil
}

func workshopChange(action string, w domain.Workshop, verb string) domain.ChangeRecord {
	return domain.NewChange(action, domain.EntityWorkshop, w.ID,
		fmt.Sprintf("Workshop %s %s", w.Name, verb)).Named(w.Name)
}

func workshopWriteError(err error, code string) error {
	switch {
	case repository.ViolatedConstraint(err) == repository.ConstraintWorkshopCode:
		return apperrors.Conflict(apperrors.CodeWorkshopCodeExists,
			fmt.Sprintf("workshop code %q already exists", code)).
			WithParams(map[string]interface{}{"code": code})
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NotFound(apperrors.CodeWorkshopNotFound, "workshop not found")
	}
	return fmt.Errorf("write workshop: %w", err)
}
