// Package store provides limit, alert and margin call repositories
package store

import (
	"context"
	"sort"
	"sync"

	"risk_engine/internal/core"
	apperrors "risk_engine/pkg/errors"
)

// MemoryStore implements core.ILimitStore and core.IAlertStore in memory
type MemoryStore struct {
	mu          sync.RWMutex
	limits      map[string]core.RiskLimit
	alerts      map[string]core.RiskAlert
	marginCalls map[string]core.MarginCall
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		limits:      make(map[string]core.RiskLimit),
		alerts:      make(map[string]core.RiskAlert),
		marginCalls: make(map[string]core.MarginCall),
	}
}

func (s *MemoryStore) GetLimit(ctx context.Context, id string) (*core.RiskLimit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.limits[id]
	if !ok {
		return nil, &apperrors.NotFoundError{Resource: "risk limit", ID: id}
	}
	return &l, nil
}

func (s *MemoryStore) ListLimits(ctx context.Context, userID string) ([]core.RiskLimit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.RiskLimit, 0)
	for _, l := range s.limits {
		if l.UserID == userID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) SaveLimit(ctx context.Context, limit core.RiskLimit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limits[limit.ID] = limit
	return nil
}

func (s *MemoryStore) DeleteLimit(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.limits[id]; !ok {
		return &apperrors.NotFoundError{Resource: "risk limit", ID: id}
	}
	delete(s.limits, id)
	return nil
}

func (s *MemoryStore) ListLimitUsers(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	users := make([]string, 0)
	for _, l := range s.limits {
		if !seen[l.UserID] {
			seen[l.UserID] = true
			users = append(users, l.UserID)
		}
	}
	sort.Strings(users)
	return users, nil
}

func (s *MemoryStore) SaveAlert(ctx context.Context, alert core.RiskAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	alert.Data = copyData(alert.Data)
	s.alerts[alert.ID] = alert
	return nil
}

func (s *MemoryStore) GetAlert(ctx context.Context, id string) (*core.RiskAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, &apperrors.NotFoundError{Resource: "risk alert", ID: id}
	}
	a.Data = copyData(a.Data)
	return &a, nil
}

func (s *MemoryStore) ListAlerts(ctx context.Context, userID string) ([]core.RiskAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.RiskAlert, 0)
	for _, a := range s.alerts {
		if a.UserID == userID {
			a.Data = copyData(a.Data)
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *MemoryStore) SaveMarginCall(ctx context.Context, call core.MarginCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marginCalls[call.ID] = call
	return nil
}

func (s *MemoryStore) GetMarginCall(ctx context.Context, id string) (*core.MarginCall, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.marginCalls[id]
	if !ok {
		return nil, &apperrors.NotFoundError{Resource: "margin call", ID: id}
	}
	return &c, nil
}

func (s *MemoryStore) ListMarginCalls(ctx context.Context, userID string) ([]core.MarginCall, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.MarginCall, 0)
	for _, c := range s.marginCalls {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

// CheckHealth always succeeds for the in-memory store
func (s *MemoryStore) CheckHealth(ctx context.Context) error {
	return nil
}

func copyData(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
