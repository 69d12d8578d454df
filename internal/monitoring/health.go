// internal/monitoring/health.go
package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/valpere/craigslist-data/pkg/types"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnknown   HealthStatus = "unknown"
)

// HealthCheck represents a single health check
type HealthCheck struct {
	Name      string                                      `json:"name"`
	Status    HealthStatus                                `json:"status"`
	Message   string                                      `json:"message,omitempty"`
	Error     string                                      `json:"error,omitempty"`
	LastCheck time.Time                                   `json:"last_check"`
	Duration  time.Duration                               `json:"duration"`
	Metadata  map[string]interface{}                      `json:"metadata,omitempty"`
	CheckFunc func(ctx context.Context) HealthCheckResult `json:"-"`
	Timeout   time.Duration                               `json:"-"`
	Critical  bool                                        `json:"critical"`
}

// HealthCheckResult represents the result of a health check
type HealthCheckResult struct {
	Status   HealthStatus
	Message  string
	Error    error
	Metadata map[string]interface{}
}

// HealthManager runs health checks when the health endpoint is polled.
type HealthManager struct {
	checks  map[string]*HealthCheck
	mu      sync.Mutex
	timeout time.Duration
	started time.Time
	version string
}

// SystemHealth represents overall health information
type SystemHealth struct {
	Status    HealthStatus  `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Version   string        `json:"version,omitempty"`
	Uptime    string        `json:"uptime"`
	Checks    []HealthCheck `json:"checks"`
	Summary   HealthSummary `json:"summary"`
}

// HealthSummary provides a summary of health checks
type HealthSummary struct {
	Total     int `json:"total"`
	Healthy   int `json:"healthy"`
	Unhealthy int `json:"unhealthy"`
	Degraded  int `json:"degraded"`
	Unknown   int `json:"unknown"`
}

// NewHealthManager creates a new health manager
func NewHealthManager(version string, defaultTimeout time.Duration) *HealthManager {
	if defaultTimeout <= 0 {
		defaultTimeout = 5 * time.Second
	}
	return &HealthManager{
		checks:  make(map[string]*HealthCheck),
		timeout: defaultTimeout,
		started: time.Now(),
		version: version,
	}
}

// RegisterCheck registers a new health check
func (hm *HealthManager) RegisterCheck(check *HealthCheck) {
	if check.Timeout == 0 {
		check.Timeout = hm.timeout
	}

	hm.mu.Lock()
	hm.checks[check.Name] = check
	hm.mu.Unlock()
}

// runCheck runs a single health check
func runCheck(ctx context.Context, check *HealthCheck) {
	start := time.Now()

	checkCtx, cancel := context.WithTimeout(ctx, check.Timeout)
	defer cancel()

	result := HealthCheckResult{Status: HealthStatusUnknown, Message: "No check function defined"}
	if check.CheckFunc != nil {
		result = check.CheckFunc(checkCtx)
	}

	check.LastCheck = start
	check.Duration = time.Since(start)
	check.Status = result.Status
	check.Message = result.Message
	check.Metadata = result.Metadata
	check.Error = ""
	if result.Error != nil {
		check.Error = result.Error.Error()
	}
}

// GetHealth runs every check and returns the overall status. A failing
// critical check makes the whole process unhealthy; any other problem
// degrades it.
func (hm *HealthManager) GetHealth(ctx context.Context) SystemHealth {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	health := SystemHealth{
		Status:    HealthStatusHealthy,
		Timestamp: time.Now(),
		Version:   hm.version,
		Uptime:    time.Since(hm.started).Round(time.Second).String(),
		Checks:    make([]HealthCheck, 0, len(hm.checks)),
	}

	for _, check := range hm.checks {
		runCheck(ctx, check)
		health.Checks = append(health.Checks, *check)

		health.Summary.Total++
		switch check.Status {
		case HealthStatusHealthy:
			health.Summary.Healthy++
			continue
		case HealthStatusUnhealthy:
			health.Summary.Unhealthy++
		case HealthStatusDegraded:
			health.Summary.Degraded++
		default:
			health.Summary.Unknown++
		}

		if check.Critical && check.Status == HealthStatusUnhealthy {
			health.Status = HealthStatusUnhealthy
		} else if health.Status == HealthStatusHealthy {
			health.Status = HealthStatusDegraded
		}
	}

	sort.Slice(health.Checks, func(i, j int) bool {
		return health.Checks[i].Name < health.Checks[j].Name
	})

	return health
}

// HealthHandler returns the HTTP handler for the health endpoint
func (hm *HealthManager) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := hm.GetHealth(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if health.Status == HealthStatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		json.NewEncoder(w).Encode(health)
	}
}

// LivenessHandler answers as long as the process serves HTTP.
func (hm *HealthManager) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": HealthStatusHealthy,
			"uptime": time.Since(hm.started).Round(time.Second).String(),
		})
	}
}

// RunHealthCheck reports on the crawl tracked by tracker. A failed run is
// unhealthy; a partial run whose failure rate exceeds maxFailureRate is
// degraded.
func RunHealthCheck(tracker *RunTracker, maxFailureRate float64) *HealthCheck {
	return &HealthCheck{
		Name:     "crawl",
		Critical: true,
		CheckFunc: func(ctx context.Context) HealthCheckResult {
			snap := tracker.Snapshot()
			metadata := map[string]interface{}{
				"status":    snap.Status,
				"processed": snap.Processed,
				"total":     snap.Total,
				"failed":    snap.Failed,
			}

			switch {
			case snap.Status == types.StatusFailed:
				return HealthCheckResult{
					Status:   HealthStatusUnhealthy,
					Message:  "crawl failed",
					Metadata: metadata,
				}
			case snap.Processed > 0 && snap.FailureRate() > maxFailureRate:
				return HealthCheckResult{
					Status:   HealthStatusDegraded,
					Message:  fmt.Sprintf("listing failure rate %.0f%%", snap.FailureRate()*100),
					Metadata: metadata,
				}
			}
			return HealthCheckResult{
				Status:   HealthStatusHealthy,
				Message:  fmt.Sprintf("crawl %s", snap.Status),
				Metadata: metadata,
			}
		},
	}
}

// DatabaseHealthCheck creates a database connectivity health check
func DatabaseHealthCheck(name string, ping func(ctx context.Context) error) *HealthCheck {
	return &HealthCheck{
		Name:     name,
		Critical: true,
		CheckFunc: func(ctx context.Context) HealthCheckResult {
			if err := ping(ctx); err != nil {
				return HealthCheckResult{
					Status:  HealthStatusUnhealthy,
					Message: "Database connection failed",
					Error:   err,
				}
			}
			return HealthCheckResult{
				Status:  HealthStatusHealthy,
				Message: "Database connection successful",
			}
		},
	}
}

// GoroutineHealthCheck creates a goroutine count health check
func GoroutineHealthCheck(maxGoroutines int) *HealthCheck {
	return &HealthCheck{
		Name: "goroutines",
		CheckFunc: func(ctx context.Context) HealthCheckResult {
			count := runtime.NumGoroutine()
			metadata := map[string]interface{}{
				"goroutine_count": count,
				"max_allowed":     maxGoroutines,
			}

			if count > maxGoroutines {
				return HealthCheckResult{
					Status:   HealthStatusDegraded,
					Message:  fmt.Sprintf("High goroutine count: %d", count),
					Metadata: metadata,
				}
			}
			return HealthCheckResult{
				Status:   HealthStatusHealthy,
				Message:  fmt.Sprintf("Goroutine count normal: %d", count),
				Metadata: metadata,
			}
		},
	}
}
