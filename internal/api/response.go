package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	apperrors "risk_engine/pkg/errors"
)

// Envelope wraps every API response
type Envelope struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *ErrorBody  `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// ErrorBody describes a failed request
type ErrorBody struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	ExistingID string `json:"existing_id,omitempty"`
}

const (
	codeValidation   = "validation_error"
	codeUnauthorized = "unauthorized"
	codeForbidden    = "forbidden"
	codeNotFound     = "not_found"
	codeConflict     = "conflict"
	codeRateLimited  = "rate_limited"
	codeUnavailable  = "service_unavailable"
	codeInternal     = "internal_error"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondOK(w http.ResponseWriter, data interface{}) {
	respond(w, http.StatusOK, data)
}

func respond(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, Envelope{Success: true, Data: data, Timestamp: time.Now().UTC()})
}

func respondError(w http.ResponseWriter, status int, body ErrorBody) {
	writeJSON(w, status, Envelope{Success: false, Error: &body, Timestamp: time.Now().UTC()})
}

// errorResponse maps a service error onto a status code and body.
// Internal failures are reported without their cause.
func errorResponse(err error) (int, ErrorBody) {
	var conflict *apperrors.ConflictError
	switch {
	case errors.Is(err, apperrors.ErrValidation):
		return http.StatusBadRequest, ErrorBody{Code: codeValidation, Message: err.Error()}
	case errors.Is(err, apperrors.ErrUnauthorized):
		return http.StatusForbidden, ErrorBody{Code: codeForbidden, Message: err.Error()}
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, ErrorBody{Code: codeNotFound, Message: err.Error()}
	case errors.As(err, &conflict):
		return http.StatusConflict, ErrorBody{Code: codeConflict, Message: err.Error(), ExistingID: conflict.ExistingID}
	case errors.Is(err, apperrors.ErrConflict):
		return http.StatusConflict, ErrorBody{Code: codeConflict, Message: err.Error()}
	case errors.Is(err, apperrors.ErrUnavailable):
		return http.StatusServiceUnavailable, ErrorBody{Code: codeUnavailable, Message: err.Error()}
	default:
		return http.StatusInternalServerError, ErrorBody{Code: codeInternal, Message: "internal server error"}
	}
}
