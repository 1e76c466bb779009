package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"risk_engine/internal/core"
	"risk_engine/internal/limits"
	apperrors "risk_engine/pkg/errors"

	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 1 << 20

type stressTestRequest struct {
	Scenario        core.StressScenario `json:"scenario"`
	ShockPercentage *float64            `json:"shock_percentage"`
}

type cacheClearedResponse struct {
	CacheCleared bool `json:"cache_cleared"`
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorResponse(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "path", r.URL.Path, "user_id", userIDFrom(r.Context()), "error", err)
	}
	respondError(w, status, body)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperrors.NewValidationError("body", "malformed JSON: "+err.Error())
	}
	return nil
}

func (s *Server) assessmentContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.opts.AssessmentTimeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), s.opts.AssessmentTimeout)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC(),
	}
	status := http.StatusOK
	if s.health != nil {
		components := s.health.GetStatus(r.Context())
		body["components"] = components
		for _, c := range components {
			if c != "Healthy" {
				body["status"] = "unhealthy"
				status = http.StatusServiceUnavailable
				break
			}
		}
	}
	writeJSON(w, status, body)
}

func (s *Server) handleGetAssessment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.assessmentContext(r)
	defer cancel()

	a, err := s.service.GetAssessment(ctx, userIDFrom(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondOK(w, a)
}

func (s *Server) handleStressTest(w http.ResponseWriter, r *http.Request) {
	var req stressTestRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.ShockPercentage == nil {
		s.fail(w, r, apperrors.NewValidationError("shock_percentage", "is required"))
		return
	}

	ctx, cancel := s.assessmentContext(r)
	defer cancel()

	res, err := s.service.RunStressTest(ctx, userIDFrom(r.Context()), req.Scenario, *req.ShockPercentage)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondOK(w, res)
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	cleared, err := s.service.ClearCache(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondOK(w, cacheClearedResponse{CacheCleared: cleared})
}

func (s *Server) handleListLimits(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := core.LimitFilter{
		Symbol:    q.Get("symbol"),
		LimitType: core.LimitType(q.Get("limit_type")),
	}

	ctx, cancel := s.assessmentContext(r)
	defer cancel()

	res, err := s.service.ListLimits(ctx, userIDFrom(r.Context()), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondOK(w, res)
}

func (s *Server) handleCreateLimit(w http.ResponseWriter, r *http.Request) {
	var req limits.CreateRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	l, err := s.service.CreateLimit(r.Context(), userIDFrom(r.Context()), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respond(w, http.StatusCreated, l)
}

func (s *Server) handleUpdateLimit(w http.ResponseWriter, r *http.Request) {
	var req limits.UpdateRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	l, err := s.service.UpdateLimit(r.Context(), userIDFrom(r.Context()), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondOK(w, l)
}

func (s *Server) handleDeleteLimit(w http.ResponseWriter, r *http.Request) {
	limitID := r.URL.Query().Get("limit_id")
	if limitID == "" {
		s.fail(w, r, apperrors.NewValidationError("limit_id", "is required"))
		return
	}
	l, err := s.service.DeleteLimit(r.Context(), userIDFrom(r.Context()), limitID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondOK(w, l)
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := core.AlertFilter{Severity: core.AlertSeverity(q.Get("severity"))}
	if raw := q.Get("resolved"); raw != "" {
		resolved, err := strconv.ParseBool(raw)
		if err != nil {
			s.fail(w, r, apperrors.NewValidationError("resolved", "must be a boolean"))
			return
		}
		filter.Resolved = &resolved
	}

	alerts, err := s.service.ListAlerts(r.Context(), userIDFrom(r.Context()), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondOK(w, alerts)
}

func (s *Server) handleMarkAlertRead(w http.ResponseWriter, r *http.Request) {
	a, err := s.service.MarkAlertRead(r.Context(), userIDFrom(r.Context()), chi.URLParam(r, "alertID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondOK(w, a)
}

func (s *Server) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	a, err := s.service.ResolveAlert(r.Context(), userIDFrom(r.Context()), chi.URLParam(r, "alertID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondOK(w, a)
}

func (s *Server) handleListMarginCalls(w http.ResponseWriter, r *http.Request) {
	filter := core.MarginCallFilter{Status: core.MarginCallStatus(r.URL.Query().Get("status"))}
	calls, err := s.service.ListMarginCalls(r.Context(), userIDFrom(r.Context()), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondOK(w, calls)
}

func (s *Server) handleResolveMarginCall(w http.ResponseWriter, r *http.Request) {
	c, err := s.service.ResolveMarginCall(r.Context(), userIDFrom(r.Context()), chi.URLParam(r, "callID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondOK(w, c)
}

func (s *Server) handleMetricsSummary(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.assessmentContext(r)
	defer cancel()

	sum, err := s.service.GetMetricsSummary(ctx, userIDFrom(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondOK(w, sum)
}
