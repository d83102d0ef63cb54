package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/VicenzaTech/psm-backend/internal/cache"
	"github.com/VicenzaTech/psm-backend/internal/domain"
	apperrors "github.com/VicenzaTech/psm-backend/internal/pkg/errors"
	"github.com/VicenzaTech/psm-backend/internal/repository"
)

// BrickTypeInput creates a brick type.
type BrickTypeInput struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// BrickTypePatch updates a brick type. Nil fields are left unchanged.
type BrickTypePatch struct {
	Code        *string `json:"code"`
	Name        *string `json:"name"`
	Type        *string `json:"type"`
	Description *string `json:"description"`
	IsActive    *bool   `json:"isActive"`
}

// BrickTypeService manages brick types. Single lookups are cached under
// cache.BrickTypeKey and forgotten on every mutation.
type BrickTypeService struct {
	deps Deps
}

// NewBrickTypeService creates a new BrickTypeService.
func NewBrickTypeService(deps Deps) *BrickTypeService {
	return &BrickTypeService{deps: deps.WithDefaults()}
}

// Create adds an active brick type.
func (s *BrickTypeService) Create(ctx context.Context, in BrickTypeInput, actor string) (domain.Result[domain.BrickType], error) {
	code, err := required("code", in.Code)
	if err != nil {
		return domain.Result[domain.BrickType]{}, err
	}
	name, err := required("name", in.Name)
	if err != nil {
		return domain.Result[domain.BrickType]{}, err
	}

	now := s.deps.Now()
	b, err := s.deps.Repos.BrickTypes.Create(ctx, domain.BrickType{
		Code:        code,
		Name:        name,
		Type:        strings.TrimSpace(in.Type),
		Description: in.Description,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return domain.Result[domain.BrickType]{}, brickTypeWriteError(err, code)
	}
	s.deps.Cache.Invalidate(ctx, cache.ScopeBrickTypes)

	return domain.Result[domain.BrickType]{
		Data:   b,
		Change: brickTypeChange(domain.ActionCreateBrickType, b, "created").By(actor),
	}, nil
}

// List returns brick types ordered by id. isActive defaults to true. Only
// the default query without a type filter is cached.
func (s *BrickTypeService) List(ctx context.Context, typ string, isActive *bool) ([]domain.BrickType, error) {
	active := ActiveOrDefault(isActive)
	typ = strings.TrimSpace(typ)
	sig := cache.Signature(map[string]string{
		"isActive": activeToken(active),
		"type":     typ,
	})
	return cache.ReadThrough(ctx, s.deps.Cache, cache.ScopeBrickTypes, sig, s.deps.ListTTL,
		func(ctx context.Context) ([]domain.BrickType, error) {
			return s.deps.Repos.BrickTypes.List(ctx, repository.BrickTypeFilter{Type: typ, IsActive: &active})
		})
}

// Get returns a brick type by id through its fixed cache key.
func (s *BrickTypeService) Get(ctx context.Context, id int64) (domain.BrickType, error) {
	return cache.ReadOne(ctx, s.deps.Cache, cache.BrickTypeKey(id), s.deps.EntityTTL,
		func(ctx context.Context) (domain.BrickType, error) {
			return s.load(ctx, id)
		})
}

// EnsureExists validates a brick type reference against the repository.
func (s *BrickTypeService) EnsureExists(ctx context.Context, id int64) (domain.BrickType, error) {
	return s.load(ctx, id)
}

func (s *BrickTypeService) load(ctx context.Context, id int64) (domain.BrickType, error) {
	b, err := s.deps.Repos.BrickTypes.Get(ctx, id)
	if err != nil {
		return domain.BrickType{}, lookupError(err, apperrors.CodeBrickTypeNotFound, "BrickType", id)
	}
	return b, nil
}

// Update applies patch to brick type id.
func (s *BrickTypeService) Update(ctx context.Context, id int64, patch BrickTypePatch, actor string) (domain.Result[domain.BrickType], error) {
	b, err := s.load(ctx, id)
	if err != nil {
		return domain.Result[domain.BrickType]{}, err
	}
	code, err := optionalTrim("code", patch.Code)
	if err != nil {
		return domain.Result[domain.BrickType]{}, err
	}
	name, err := optionalTrim("name", patch.Name)
	if err != nil {
		return domain.Result[domain.BrickType]{}, err
	}
	if code != nil {
		b.Code = *code
	}
	if name != nil {
		b.Name = *name
	}
	if patch.Type != nil {
		b.Type = strings.TrimSpace(*patch.Type)
	}
	if patch.Description != nil {
		b.Description = *patch.Description
	}
	if patch.IsActive != nil {
		b.IsActive = *patch.IsActive
	}
	return s.write(ctx, b, domain.ActionUpdateBrickType, "updated", actor)
}

// Disable soft-deletes brick type id.
func (s *BrickTypeService) Disable(ctx context.Context, id int64, actor string) (domain.Result[domain.BrickType], error) {
	b, err := s.load(ctx, id)
	if err != nil {
		return domain.Result[domain.BrickType]{}, err
	}
	b.IsActive = false
	return s.write(ctx, b, domain.ActionDisableBrickType, "disabled", actor)
}

func (s *BrickTypeService) write(ctx context.Context, b domain.BrickType, action, verb, actor string) (domain.Result[domain.BrickType], error) {
	b.UpdatedAt = s.deps.Now()
	out, err := s.deps.Repos.BrickTypes.Update(ctx, b)
	if err != nil {
		return domain.Result[domain.BrickType]{}, brickTypeWriteError(err, b.Code)
	}
	s.deps.Cache.Forget(ctx, cache.BrickTypeKey(out.ID))
	s.deps.Cache.Invalidate(ctx, cache.ScopeBrickTypes)
	return domain.Result[domain.BrickType]{
		Data:   out,
		Change: brickTypeChange(action, out, verb).By(actor),
	}, nil
}

func brickTypeChange(action string, b domain.BrickType, verb string) domain.ChangeRecord {
	return domain.NewChange(action, domain.EntityBrickType, b.ID,
		fmt.Sprintf("Brick type %s %s", b.Name, verb)).Named(b.Name)
}

func brickTypeWriteError(err error, code string) error {
	switch {
	case repository.ViolatedConstraint(err) == repository.ConstraintBrickTypeCode:
		return apperrors.Conflict(apperrors.CodeBrickTypeCodeExists,
			fmt.Sprintf("brick type code %q already exists", code)).
			WithParams(map[string]interface{}{"code": code})
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NotFound(apperrors.CodeBrickTypeNotFound, "brick type not found")
	}
	return fmt.Errorf("write brick type: %w", err)
}
