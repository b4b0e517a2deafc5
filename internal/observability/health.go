package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// HealthStatus classifies the outcome of a probe.
type HealthStatus string

const (
	// StatusHealthy indicates the component responded without error.
	StatusHealthy HealthStatus = "healthy"
	// StatusUnhealthy indicates the component failed or timed out.
	StatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck probes one dependency. Implementations must honor ctx
// cancellation so a stuck backend cannot hang the whole sweep.
type HealthCheck func(ctx context.Context) error

// ComponentHealth is the outcome of a single probe.
type ComponentHealth struct {
	Status  HealthStatus `json:"status"`
	Error   string       `json:"error,omitempty"`
	Latency string       `json:"latency,omitempty"`
}

// HealthResponse aggregates one health sweep.
type HealthResponse struct {
	Status     HealthStatus               `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components"`
}

// ReadinessResponse aggregates one readiness sweep.
type ReadinessResponse struct {
	Ready      bool                       `json:"ready"`
	Timestamp  time.Time                  `json:"timestamp"`
	Components map[string]ComponentHealth `json:"components"`
}

// HealthChecker runs named probes against the VNFM's dependencies, the
// instance store and the registered infrastructure drivers. Health and
// readiness keep separate probe sets so a deployment can gate traffic on a
// stricter list than it alerts on.
type HealthChecker struct {
	mu        sync.RWMutex
	version   string
	timeout   time.Duration
	health    map[string]HealthCheck
	readiness map[string]HealthCheck
}

// NewHealthChecker creates a checker with a 5s sweep timeout.
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		version:   version,
		timeout:   5 * time.Second,
		health:    make(map[string]HealthCheck),
		readiness: make(map[string]HealthCheck),
	}
}

// SetTimeout bounds how long one probe sweep may take.
func (hc *HealthChecker) SetTimeout(d time.Duration) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.timeout = d
}

// RegisterHealthCheck adds a probe to the health sweep.
func (hc *HealthChecker) RegisterHealthCheck(name string, check HealthCheck) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.health[name] = check
}

// RegisterReadinessCheck adds a probe to the readiness sweep.
func (hc *HealthChecker) RegisterReadinessCheck(name string, check HealthCheck) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.readiness[name] = check
}

// CheckHealth runs every health probe. The overall status is unhealthy as
// soon as any single probe fails.
func (hc *HealthChecker) CheckHealth(ctx context.Context) *HealthResponse {
	components := hc.sweep(ctx, hc.snapshot(hc.health))

	status := StatusHealthy
	for _, c := range components {
		if c.Status != StatusHealthy {
			status = StatusUnhealthy
			break
		}
	}

	return &HealthResponse{
		Status:     status,
		Timestamp:  time.Now().UTC(),
		Version:    hc.version,
		Components: components,
	}
}

// CheckReadiness runs every readiness probe. Ready only when all pass.
func (hc *HealthChecker) CheckReadiness(ctx context.Context) *ReadinessResponse {
	components := hc.sweep(ctx, hc.snapshot(hc.readiness))

	ready := true
	for _, c := range components {
		if c.Status != StatusHealthy {
			ready = false
			break
		}
	}

	return &ReadinessResponse{
		Ready:      ready,
		Timestamp:  time.Now().UTC(),
		Components: components,
	}
}

func (hc *HealthChecker) snapshot(set map[string]HealthCheck) map[string]HealthCheck {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	out := make(map[string]HealthCheck, len(set))
	for name, check := range set {
		out[name] = check
	}
	return out
}

// sweep runs the probes concurrently under the sweep timeout.
func (hc *HealthChecker) sweep(ctx context.Context, checks map[string]HealthCheck) map[string]ComponentHealth {
	hc.mu.RLock()
	timeout := hc.timeout
	hc.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]ComponentHealth, len(checks))
	)
	for name, check := range checks {
		wg.Add(1)
		go func(name string, check HealthCheck) {
			defer wg.Done()

			began := time.Now()
			err := check(ctx)

			result := ComponentHealth{
				Status:  StatusHealthy,
				Latency: time.Since(began).String(),
			}
			if err != nil {
				result.Status = StatusUnhealthy
				result.Error = err.Error()
				if ctx.Err() != nil {
					result.Error = "check timed out"
				}
			}

			mu.Lock()
			results[name] = result
			mu.Unlock()
		}(name, check)
	}
	wg.Wait()

	return results
}

// LivenessHandler reports process liveness. It deliberately probes nothing:
// if the handler runs, the process is alive.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"alive":     true,
			"timestamp": time.Now().UTC(),
		})
	}
}

// StoreHealthCheck probes the instance store backend.
func StoreHealthCheck(ping func(ctx context.Context) error) HealthCheck {
	return func(ctx context.Context) error {
		if ping == nil {
			return fmt.Errorf("store ping function not provided")
		}
		return ping(ctx)
	}
}

// DriverHealthCheck probes one infrastructure driver.
func DriverHealthCheck(name string, health func(ctx context.Context) error) HealthCheck {
	return func(ctx context.Context) error {
		if health == nil {
			return fmt.Errorf("driver %s check function not provided", name)
		}
		return health(ctx)
	}
}
