package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypedErrorsMatchSentinels(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"validation", NewValidationError("limit_value", "must be positive"), ErrValidation},
		{"not found", &NotFoundError{Resource: "risk limit", ID: "x"}, ErrNotFound},
		{"authorization", &AuthorizationError{Resource: "risk limit"}, ErrUnauthorized},
		{"conflict", &ConflictError{Resource: "risk limit", ExistingID: "abc"}, ErrConflict},
		{"calculation", &CalculationError{Op: "var", Err: errors.New("nan")}, ErrCalculation},
		{"unavailable", Unavailable("position feed", errors.New("timeout")), ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			assert.ErrorIs(t, wrapped, tt.sentinel)
		})
	}
}

func TestConflictErrorCarriesExistingID(t *testing.T) {
	err := fmt.Errorf("create: %w", &ConflictError{Resource: "risk limit", ExistingID: "limit-1"})

	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "limit-1", conflict.ExistingID)
}

func TestAuthorizationErrorDoesNotLeakOwner(t *testing.T) {
	err := &AuthorizationError{Resource: "risk limit"}
	assert.Equal(t, "not authorized to access risk limit", err.Error())
}

func TestUnavailableUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := Unavailable("redis", cause)
	assert.ErrorIs(t, err, cause)
}
