// Package errors provides the application error model for the production
// status backend.
//
// User-visible failures are exactly NotFound, InvalidTransition and Conflict
// (plus request validation). Cache and audit failures never reach this package:
// they are logged and swallowed where they happen.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an AppError independently of its code.
type Kind string

const (
	KindNotFound          Kind = "NOT_FOUND"
	KindInvalidTransition Kind = "INVALID_TRANSITION"
	KindConflict          Kind = "CONFLICT"
	KindValidation        Kind = "VALIDATION"
	KindInternal          Kind = "INTERNAL"
)

// AppError is a structured application error with HTTP status and error code.
type AppError struct {
	// Kind is the taxonomy bucket (not serialized; Code is the wire contract).
	Kind Kind `json:"-"`

	// Code is a machine-readable error code (e.g., "PRODUCTION_PLAN_NOT_FOUND").
	Code string `json:"code"`

	// Message is a human-readable error message.
	Message string `json:"message"`

	// HTTPStatus is the corresponding HTTP status code.
	HTTPStatus int `json:"-"`

	// Params carries structured context so an operator can resolve the failure.
	Params map[string]interface{} `json:"params,omitempty"`

	// Err is the wrapped underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(kind Kind, code, message string, httpStatus int) *AppError {
	return &AppError{
		Kind:       kind,
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an existing error into an AppError.
func Wrap(err error, kind Kind, code, message string, httpStatus int) *AppError {
	return &AppError{
		Kind:       kind,
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// WithParams attaches structured parameters to the error.
func (e *AppError) WithParams(params map[string]interface{}) *AppError {
	if e == nil || len(params) == 0 {
		return e
	}
	e.Params = params
	return e
}

// Common error constructors.

// NotFound creates a 404 error.
func NotFound(code, message string) *AppError {
	return New(KindNotFound, code, message, http.StatusNotFound)
}

// InvalidTransition creates a 409 error for an operation that is not legal
// from the current state.
func InvalidTransition(code, message string) *AppError {
	return New(KindInvalidTransition, code, message, http.StatusConflict)
}

// Conflict creates a 409 error for a violated cross-entity invariant.
func Conflict(code, message string) *AppError {
	return New(KindConflict, code, message, http.StatusConflict)
}

// BadRequest creates a 400 error.
func BadRequest(code, message string) *AppError {
	return New(KindValidation, code, message, http.StatusBadRequest)
}

// Internal creates a 500 error.
func Internal(code, message string) *AppError {
	return New(KindInternal, code, message, http.StatusInternalServerError)
}

// IsAppError checks if an error is an AppError and returns it.
func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf returns the Kind of err, or KindInternal when err is not an AppError.
func KindOf(err error) Kind {
	if appErr, ok := IsAppError(err); ok {
		return appErr.Kind
	}
	return KindInternal
}

// IsNotFound reports whether err is a NotFound AppError.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsInvalidTransition reports whether err is an InvalidTransition AppError.
func IsInvalidTransition(err error) bool { return KindOf(err) == KindInvalidTransition }

// IsConflict reports whether err is a Conflict AppError.
func IsConflict(err error) bool { return KindOf(err) == KindConflict }
