package observability

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// HealthStatus classifies a component's health.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheckResult is the outcome of probing one component.
type HealthCheckResult struct {
	Status    HealthStatus  `json:"status"`
	Message   string        `json:"message,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
	Timestamp time.Time     `json:"timestamp"`
}

// HealthChecker probes one component.
type HealthChecker func(ctx context.Context) HealthCheckResult

// HealthRegistry runs registered health checks and aggregates the results.
type HealthRegistry struct {
	mu       sync.RWMutex
	checkers map[string]HealthChecker
}

// NewHealthRegistry creates an empty registry.
func NewHealthRegistry() *HealthRegistry {
	return &HealthRegistry{checkers: make(map[string]HealthChecker)}
}

// Register adds a named health check. Registering the same name again
// replaces the previous checker.
func (r *HealthRegistry) Register(name string, checker HealthChecker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[name] = checker
}

// Check probes every registered component in parallel.
func (r *HealthRegistry) Check(ctx context.Context) map[string]HealthCheckResult {
	r.mu.RLock()
	checkers := make(map[string]HealthChecker, len(r.checkers))
	for name, checker := range r.checkers {
		checkers[name] = checker
	}
	r.mu.RUnlock()

	var (
		wg       sync.WaitGroup
		resultMu sync.Mutex
	)
	results := make(map[string]HealthCheckResult, len(checkers))

	for name, checker := range checkers {
		wg.Add(1)
		go func(name string, checker HealthChecker) {
			defer wg.Done()
			start := time.Now()
			result := checker(ctx)
			result.Duration = time.Since(start)
			result.Timestamp = time.Now()

			resultMu.Lock()
			results[name] = result
			resultMu.Unlock()
		}(name, checker)
	}
	wg.Wait()

	return results
}

// OverallHealth is the aggregate served on the health endpoint.
type OverallHealth struct {
	Status    HealthStatus                 `json:"status"`
	Timestamp time.Time                    `json:"timestamp"`
	Checks    map[string]HealthCheckResult `json:"checks"`
}

// GetOverallHealth runs all checks and reduces them to a single status:
// any unhealthy component makes the whole unhealthy, otherwise any
// degraded component makes it degraded.
func (r *HealthRegistry) GetOverallHealth(ctx context.Context) OverallHealth {
	checks := r.Check(ctx)

	status := HealthStatusHealthy
	for _, result := range checks {
		switch result.Status {
		case HealthStatusUnhealthy:
			status = HealthStatusUnhealthy
		case HealthStatusDegraded:
			if status == HealthStatusHealthy {
				status = HealthStatusDegraded
			}
		}
	}

	return OverallHealth{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
	}
}

// ToJSON serializes the overall health for the health endpoint.
func (h OverallHealth) ToJSON() ([]byte, error) {
	return json.Marshal(h)
}

// DatabaseHealthChecker probes the state database. A dead database is
// unhealthy; nothing works without it.
func DatabaseHealthChecker(pingFunc func(ctx context.Context) error) HealthChecker {
	return func(ctx context.Context) HealthCheckResult {
		if err := pingFunc(ctx); err != nil {
			return HealthCheckResult{
				Status:  HealthStatusUnhealthy,
				Message: "database unreachable: " + err.Error(),
			}
		}
		return HealthCheckResult{Status: HealthStatusHealthy, Message: "database reachable"}
	}
}

// RedisHealthChecker probes the lease store. Losing it degrades the
// service; sync cycles fail as network errors and retry, license
// validation is unaffected.
func RedisHealthChecker(pingFunc func(ctx context.Context) error) HealthChecker {
	return func(ctx context.Context) HealthCheckResult {
		if err := pingFunc(ctx); err != nil {
			return HealthCheckResult{
				Status:  HealthStatusDegraded,
				Message: "lease store unreachable: " + err.Error(),
			}
		}
		return HealthCheckResult{Status: HealthStatusHealthy, Message: "lease store reachable"}
	}
}
