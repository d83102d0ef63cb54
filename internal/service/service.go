// Package service implements the catalog (workshops, production lines, brick
// types) and daily production operations.
//
// Services do not manage transactions: every repository call is atomic on its
// own and cross-row invariants are left to storage constraints. Every mutation
// returns a domain.Result whose ChangeRecord is forwarded to the activity log
// by the caller.
package service

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/VicenzaTech/psm-backend/internal/cache"
	"github.com/VicenzaTech/psm-backend/internal/domain"
	apperrors "github.com/VicenzaTech/psm-backend/internal/pkg/errors"
	"github.com/VicenzaTech/psm-backend/internal/repository"
)

// Deps are the collaborators shared by every service and workflow.
type Deps struct {
	Repos repository.Repositories

	// Cache may be nil, in which case every read goes to the repositories.
	Cache *cache.Cache

	ListTTL   time.Duration
	EntityTTL time.Duration

	// Now defaults to domain.Now.
	Now func() time.Time
}

// WithDefaults fills zero TTLs and the clock.
func (d Deps) WithDefaults() Deps {
	if d.ListTTL <= 0 {
		d.ListTTL = cache.DefaultListTTL
	}
	if d.EntityTTL <= 0 {
		d.EntityTTL = cache.DefaultEntityTTL
	}
	if d.Now == nil {
		d.Now = domain.Now
	}
	return d
}

// ActiveOrDefault resolves an optional isActive filter. Lists show active
// rows unless asked otherwise.
func ActiveOrDefault(isActive *bool) bool {
	return isActive == nil || *isActive
}

// activeToken is the signature value of an effective isActive filter; the
// default (true) contributes nothing to the signature.
func activeToken(active bool) string {
	if active {
		return ""
	}
	return "false"
}

// IDToken renders an optional id filter for cache.Signature.
func IDToken(id *int64) string {
	if id == nil {
		return ""
	}
	return strconv.FormatInt(*id, 10)
}

// lookupError maps a repository read failure on entity id.
func lookupError(err error, code, entity string, id int64) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.ErrNotFoundf(code, entity, id)
	}
	return fmt.Errorf("get %s %d: %w", strings.ToLower(entity), id, err)
}

// required trims value and rejects it when empty.
func required(field, value string) (string, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return "", apperrors.ErrValidationf(field, "%s is required", field)
	}
	return v, nil
}

// optionalTrim applies required to a non-nil patch field.
func optionalTrim(field string, value *string) (*string, error) {
	if value == nil {
		return nil, nil
	}
	v, err := required(field, *value)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
