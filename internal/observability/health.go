package observability

import (
	"context"
	"errors"
	"os"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DependencyStatus is the cached readiness of one dependency.
type DependencyStatus string

const (
	// StatusConnected means the dependency answered its last check.
	StatusConnected DependencyStatus = "connected"
	// StatusDisconnected means the last check failed.
	StatusDisconnected DependencyStatus = "disconnected"
	// StatusUnknown means the dependency has not been checked yet.
	StatusUnknown DependencyStatus = "unknown"
)

// Overall states reported by the health endpoints.
const (
	StateHealthy  = "healthy"
	StateAlive    = "alive"
	StateStarting = "starting"
	StateReady    = "ready"
	StateNotReady = "not ready"
)

// HealthCheck tests a dependency. A nil return means connected.
type HealthCheck func(ctx context.Context) error

// LivenessResponse is the body of the liveness endpoint.
type LivenessResponse struct {
	Status string `json:"status"`
}

// ReadinessResponse is the body of the readiness endpoint.
type ReadinessResponse struct {
	Status string                      `json:"status"`
	Checks map[string]DependencyStatus `json:"checks"`
}

// MemoryStats summarises the runtime memory statistics.
type MemoryStats struct {
	Alloc     uint64 `json:"alloc"`
	HeapAlloc uint64 `json:"heapAlloc"`
	HeapSys   uint64 `json:"heapSys"`
	Sys       uint64 `json:"sys"`
	NumGC     uint32 `json:"numGC"`
}

// HealthResponse is the body of the health endpoint.
type HealthResponse struct {
	Status      string      `json:"status"`
	Timestamp   time.Time   `json:"timestamp"`
	Uptime      float64     `json:"uptime"`
	Environment string      `json:"environment"`
	Version     string      `json:"version"`
	Memory      MemoryStats `json:"memory"`
	PID         int         `json:"pid"`
}

type dependency struct {
	check  HealthCheck
	status DependencyStatus
}

// HealthReporter answers liveness, readiness and health queries.
//
// Readiness is served from cached statuses only. Checks run on the refresh
// loop started by Run, each bounded by the check timeout, so a slow
// dependency never delays the readiness endpoint.
type HealthReporter struct {
	mu           sync.RWMutex
	dependencies map[string]*dependency
	started      atomic.Bool
	startedAt    time.Time
	environment  string
	version      string
	interval     time.Duration
	timeout      time.Duration
	logger       *zap.Logger
}

// NewHealthReporter creates a reporter. The process start time is taken now.
func NewHealthReporter(environment, version string, interval, timeout time.Duration, logger *zap.Logger) *HealthReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HealthReporter{
		dependencies: make(map[string]*dependency),
		startedAt:    time.Now(),
		environment:  environment,
		version:      version,
		interval:     interval,
		timeout:      timeout,
		logger:       logger.Named("health"),
	}
}

// MarkStarted flips liveness to alive. It is called once the listener is up.
func (h *HealthReporter) MarkStarted() {
	h.started.Store(true)
}

// Started reports whether MarkStarted has been called.
func (h *HealthReporter) Started() bool {
	return h.started.Load()
}

// RegisterStatic declares a dependency whose status does not change.
func (h *HealthReporter) RegisterStatic(name string, status DependencyStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dependencies[name] = &dependency{status: status}
}

// RegisterCheck declares a polled dependency. Its status is unknown until
// the first refresh.
func (h *HealthReporter) RegisterCheck(name string, check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dependencies[name] = &dependency{check: check, status: StatusUnknown}
}

// Liveness reports whether the process has finished starting.
func (h *HealthReporter) Liveness() LivenessResponse {
	if !h.Started() {
		return LivenessResponse{Status: StateStarting}
	}
	return LivenessResponse{Status: StateAlive}
}

// Readiness returns the cached dependency statuses. The service is ready
// only when every dependency is connected.
func (h *HealthReporter) Readiness() ReadinessResponse {
	h.mu.RLock()
	defer h.mu.RUnlock()

	checks := make(map[string]DependencyStatus, len(h.dependencies))
	ready := true
	for name, dep := range h.dependencies {
		checks[name] = dep.status
		if dep.status != StatusConnected {
			ready = false
		}
	}

	status := StateReady
	if !ready {
		status = StateNotReady
	}
	return ReadinessResponse{Status: status, Checks: checks}
}

// Health returns process information.
func (h *HealthReporter) Health() HealthResponse {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return HealthResponse{
		Status:      StateHealthy,
		Timestamp:   time.Now().UTC(),
		Uptime:      time.Since(h.startedAt).Seconds(),
		Environment: h.environment,
		Version:     h.version,
		Memory: MemoryStats{
			Alloc:     mem.Alloc,
			HeapAlloc: mem.HeapAlloc,
			HeapSys:   mem.HeapSys,
			Sys:       mem.Sys,
			NumGC:     mem.NumGC,
		},
		PID: os.Getpid(),
	}
}

// Refresh runs every check once, concurrently, and updates the cache.
func (h *HealthReporter) Refresh(ctx context.Context) {
	h.mu.RLock()
	checks := make(map[string]HealthCheck, len(h.dependencies))
	for name, dep := range h.dependencies {
		if dep.check != nil {
			checks[name] = dep.check
		}
	}
	h.mu.RUnlock()

	if len(checks) == 0 {
		return
	}

	type result struct {
		name string
		err  error
	}

	results := make(chan result, len(checks))
	var wg sync.WaitGroup
	for name, check := range checks {
		wg.Add(1)
		go func(name string, check HealthCheck) {
			defer wg.Done()
			results <- result{name: name, err: h.runCheck(ctx, name, check)}
		}(name, check)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	for r := range results {
		h.update(r.name, r.err)
	}
}

// Run refreshes the cache on the configured interval until ctx is done.
func (h *HealthReporter) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Refresh(ctx)
		}
	}
}

// Dependencies returns the registered dependency names in sorted order.
func (h *HealthReporter) Dependencies() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.dependencies))
	for name := range h.dependencies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (h *HealthReporter) runCheck(ctx context.Context, name string, check HealthCheck) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- check(ctx)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err == nil {
		return nil
	}

	var unavailable *DependencyUnavailableError
	if errors.As(err, &unavailable) {
		return err
	}
	return &DependencyUnavailableError{Dependency: name, Err: err}
}

func (h *HealthReporter) update(name string, err error) {
	status := StatusConnected
	if err != nil {
		status = StatusDisconnected
	}

	h.mu.Lock()
	dep, ok := h.dependencies[name]
	if !ok {
		h.mu.Unlock()
		return
	}
	previous := dep.status
	dep.status = status
	h.mu.Unlock()

	if previous == status {
		return
	}

	if err != nil {
		h.logger.Warn("dependency unavailable",
			zap.String("dependency", name),
			zap.String("previous", string(previous)),
			zap.Error(err),
		)
		return
	}
	h.logger.Info("dependency connected",
		zap.String("dependency", name),
		zap.String("previous", string(previous)),
	)
}
