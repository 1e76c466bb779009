// Package cache holds short-lived per-user risk assessments
package cache

import (
	"context"
	"sync"
	"time"

	"risk_engine/internal/core"
)

// DefaultTTL bounds how long an assessment is served without recomputation
const DefaultTTL = 300 * time.Second

// MemoryCache implements core.IAssessmentCache with a mutex-guarded map.
// Entries are replaced whole, never mutated in place.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]core.CachedAssessment
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryCache creates a MemoryCache. A non-positive ttl selects DefaultTTL.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryCache{
		entries: make(map[string]core.CachedAssessment),
		ttl:     ttl,
		now:     time.Now,
	}
}

// WithClock replaces the time source, for tests
func (c *MemoryCache) WithClock(now func() time.Time) *MemoryCache {
	c.now = now
	return c
}

func (c *MemoryCache) Get(ctx context.Context, userID string) (*core.CachedAssessment, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[userID]
	c.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(entry.ExpiresAt) {
		c.mu.Lock()
		if cur, still := c.entries[userID]; still && cur.ExpiresAt.Equal(entry.ExpiresAt) {
			delete(c.entries, userID)
		}
		c.mu.Unlock()
		return nil, false, nil
	}
	entry.Assessment = entry.Assessment.Clone()
	return &entry, true, nil
}

func (c *MemoryCache) Set(ctx context.Context, userID string, assessment core.RiskAssessment) (*core.CachedAssessment, error) {
	now := c.now()
	entry := core.CachedAssessment{
		Assessment: assessment.Clone(),
		ComputedAt: now,
		ExpiresAt:  now.Add(c.ttl),
	}

	c.mu.Lock()
	c.entries[userID] = entry
	c.mu.Unlock()
	return &entry, nil
}

func (c *MemoryCache) Delete(ctx context.Context, userID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[userID]
	delete(c.entries, userID)
	return ok, nil
}

// Len reports the number of stored entries, expired ones included
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// CheckHealth always succeeds for the in-memory cache
func (c *MemoryCache) CheckHealth(ctx context.Context) error {
	return nil
}
