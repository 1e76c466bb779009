package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"risk_engine/internal/core"
)

const defaultCheckTimeout = 3 * time.Second

// CheckFunc reports a component's health
type CheckFunc func(ctx context.Context) error

// HealthManager aggregates health status from different components
type HealthManager struct {
	logger  core.ILogger
	timeout time.Duration
	mu      sync.RWMutex
	checks  map[string]CheckFunc
}

// NewHealthManager creates a new health manager
func NewHealthManager(logger core.ILogger) *HealthManager {
	hm := &HealthManager{
		timeout: defaultCheckTimeout,
		checks:  make(map[string]CheckFunc),
	}
	if logger != nil {
		hm.logger = logger.WithField("component", "health_manager")
	}
	return hm
}

// Register adds a new health check for a component
func (hm *HealthManager) Register(component string, check CheckFunc) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checks[component] = check
}

// RegisterChecker registers anything implementing core.IHealthChecker
func (hm *HealthManager) RegisterChecker(component string, checker core.IHealthChecker) {
	hm.Register(component, checker.CheckHealth)
}

// Components lists registered component names in order
func (hm *HealthManager) Components() []string {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	names := make([]string, 0, len(hm.checks))
	for name := range hm.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetStatus runs every check and returns "Healthy" or "Unhealthy: <reason>" per component
func (hm *HealthManager) GetStatus(ctx context.Context) map[string]string {
	hm.mu.RLock()
	checks := make(map[string]CheckFunc, len(hm.checks))
	for name, check := range hm.checks {
		checks[name] = check
	}
	hm.mu.RUnlock()

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		status = make(map[string]string, len(checks))
	)
	for name, check := range checks {
		wg.Add(1)
		go func(name string, check CheckFunc) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, hm.timeout)
			defer cancel()

			result := "Healthy"
			if err := check(cctx); err != nil {
				result = "Unhealthy: " + err.Error()
				if hm.logger != nil {
					hm.logger.Warn("Health check failed", "check", name, "error", err)
				}
			}
			mu.Lock()
			status[name] = result
			mu.Unlock()
		}(name, check)
	}
	wg.Wait()
	return status
}

// IsHealthy returns true if all registered components are healthy
func (hm *HealthManager) IsHealthy(ctx context.Context) bool {
	for _, s := range hm.GetStatus(ctx) {
		if s != "Healthy" {
			return false
		}
	}
	return true
}
