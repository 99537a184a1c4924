// Package server provides health probes and graceful shutdown for the
// springtwin processes.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// HealthStatus represents the health state of a component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
)

// DefaultCheckTimeout bounds a full /health run.
const DefaultCheckTimeout = 5 * time.Second

// HealthCheck is the result of one component check.
type HealthCheck struct {
	Name    string            `json:"name"`
	Status  HealthStatus      `json:"status"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// HealthResponse is the response from health endpoints.
type HealthResponse struct {
	Status    HealthStatus  `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Version   string        `json:"version,omitempty"`
	Checks    []HealthCheck `json:"checks,omitempty"`
}

// HealthChecker performs a health check.
type HealthChecker func(ctx context.Context) HealthCheck

// HealthServer serves liveness, readiness and component health.
type HealthServer struct {
	mu      sync.RWMutex
	checks  map[string]HealthChecker
	version string
	timeout time.Duration
	ready   bool
	live    bool
}

// HealthConfig configures the health server.
type HealthConfig struct {
	Version      string
	CheckTimeout time.Duration // zero means DefaultCheckTimeout
}

// NewHealthServer creates a health server that is live but not ready.
func NewHealthServer(config *HealthConfig) *HealthServer {
	s := &HealthServer{
		checks:  make(map[string]HealthChecker),
		timeout: DefaultCheckTimeout,
		live:    true,
	}
	if config != nil {
		s.version = config.Version
		if config.CheckTimeout > 0 {
			s.timeout = config.CheckTimeout
		}
	}
	return s
}

// RegisterCheck adds or replaces a named check.
func (s *HealthServer) RegisterCheck(name string, checker HealthChecker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = checker
}

// SetReady marks the process as ready to accept traffic.
func (s *HealthServer) SetReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = ready
}

// SetLive marks the process as live (or not).
func (s *HealthServer) SetLive(live bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live = live
}

// Handler returns an http.Handler for the health endpoints.
func (s *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/live", s.handleLive)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/livez", s.handleLive)
	return mux
}

// Check runs every registered check concurrently. Results are sorted by
// name; the overall status is the worst individual status.
func (s *HealthServer) Check(ctx context.Context) HealthResponse {
	s.mu.RLock()
	names := make([]string, 0, len(s.checks))
	checks := make([]HealthChecker, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		checks = append(checks, s.checks[name])
	}
	version, timeout := s.version, s.timeout
	s.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results := make([]HealthCheck, len(checks))
	var g errgroup.Group
	for i, checker := range checks {
		g.Go(func() error {
			results[i] = checker(ctx)
			results[i].Name = names[i]
			return nil
		})
	}
	_ = g.Wait()

	resp := HealthResponse{Status: HealthStatusHealthy, Timestamp: time.Now().UTC(), Version: version, Checks: results}
	for _, c := range results {
		switch {
		case c.Status == HealthStatusUnhealthy:
			resp.Status = HealthStatusUnhealthy
		case c.Status == HealthStatusDegraded && resp.Status == HealthStatusHealthy:
			resp.Status = HealthStatusDegraded
		}
	}
	return resp
}

func (s *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := s.Check(r.Context())
	status := http.StatusOK
	if resp.Status == HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *HealthServer) handleReady(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	ready := s.ready
	s.mu.RUnlock()
	probe(w, ready)
}

func (s *HealthServer) handleLive(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	live := s.live
	s.mu.RUnlock()
	probe(w, live)
}

func probe(w http.ResponseWriter, ok bool) {
	resp := HealthResponse{Status: HealthStatusHealthy, Timestamp: time.Now().UTC()}
	status := http.StatusOK
	if !ok {
		resp.Status = HealthStatusUnhealthy
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// PingChecker reports unhealthy when ping fails. Use it for dependencies
// the process cannot work without, such as the badger graph store.
func PingChecker(component string, ping func(ctx context.Context) error) HealthChecker {
	return func(ctx context.Context) HealthCheck {
		if err := ping(ctx); err != nil {
			return HealthCheck{Status: HealthStatusUnhealthy, Message: component + " unavailable: " + err.Error()}
		}
		return HealthCheck{Status: HealthStatusHealthy, Message: component + " OK"}
	}
}

// ProjectorChecker reports degraded when ping fails. Projections (neo4j,
// qdrant) lag behind the graph store without blocking commits.
func ProjectorChecker(component string, ping func(ctx context.Context) error) HealthChecker {
	return func(ctx context.Context) HealthCheck {
		if err := ping(ctx); err != nil {
			return HealthCheck{
				Status:  HealthStatusDegraded,
				Message: component + " projection degraded: " + err.Error(),
				Details: map[string]string{"projector": component},
			}
		}
		return HealthCheck{Status: HealthStatusHealthy, Message: component + " OK", Details: map[string]string{"projector": component}}
	}
}

// JobsChecker reports the running job count. It is degraded once the
// coordinator has no free worker.
func JobsChecker(running func() int, workers int) HealthChecker {
	return func(context.Context) HealthCheck {
		n := running()
		check := HealthCheck{
			Status:  HealthStatusHealthy,
			Message: "job coordinator OK",
			Details: map[string]string{"running": strconv.Itoa(n), "workers": strconv.Itoa(workers)},
		}
		if workers > 0 && n >= workers {
			check.Status = HealthStatusDegraded
			check.Message = "all analysis workers busy"
		}
		return check
	}
}
