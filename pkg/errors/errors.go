package apperrors

import (
	"errors"
	"fmt"
)

// Standardized risk engine errors
var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("not authorized")
	ErrConflict     = errors.New("conflict")
	ErrCalculation  = errors.New("calculation failed")
	ErrUnavailable  = errors.New("dependency unavailable")
)

// ValidationError reports a malformed request field
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NewValidationError creates a ValidationError
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// NotFoundError reports an unknown resource id
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// AuthorizationError reports access to a resource owned by someone else.
// The message never names the owner.
type AuthorizationError struct {
	Resource string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("not authorized to access %s", e.Resource)
}

func (e *AuthorizationError) Is(target error) bool { return target == ErrUnauthorized }

// ConflictError reports a uniqueness violation and carries the existing id
type ConflictError struct {
	Resource   string
	ExistingID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s already exists: %s", e.Resource, e.ExistingID)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// CalculationError reports a numeric fault inside a metric computation
type CalculationError struct {
	Op  string
	Err error
}

func (e *CalculationError) Error() string {
	return fmt.Sprintf("calculation %s failed: %v", e.Op, e.Err)
}

func (e *CalculationError) Unwrap() error { return e.Err }

func (e *CalculationError) Is(target error) bool { return target == ErrCalculation }

// UnavailableError reports a failing external dependency
type UnavailableError struct {
	Dependency string
	Err        error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Dependency, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

// Unavailable wraps err as an UnavailableError for dependency
func Unavailable(dependency string, err error) error {
	return &UnavailableError{Dependency: dependency, Err: err}
}
