package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// ShutdownState is the lifecycle state of the server.
type ShutdownState int32

// Shutdown states. Transitions only move forward.
const (
	StateRunning ShutdownState = iota
	StateDraining
	StateStopped
)

// String returns the state name.
func (s ShutdownState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ErrForcedShutdown is returned when the grace period expired and the
// remaining connections were closed. Requests still in flight at that point
// receive no response.
var ErrForcedShutdown = errors.New("grace period expired, connections force-closed")

// ReleaseFunc releases a resource during shutdown.
type ReleaseFunc func(ctx context.Context) error

type release struct {
	name string
	fn   ReleaseFunc
}

// ShutdownCoordinator drains the HTTP server and releases resources exactly
// once.
type ShutdownCoordinator struct {
	server *http.Server
	grace  time.Duration
	logger *zap.Logger

	state atomic.Int32

	mu       sync.Mutex
	releases []release

	once sync.Once
	err  error
}

// NewShutdownCoordinator creates a coordinator for srv. In-flight requests
// get up to grace to complete.
func NewShutdownCoordinator(srv *http.Server, grace time.Duration, logger *zap.Logger) *ShutdownCoordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ShutdownCoordinator{
		server: srv,
		grace:  grace,
		logger: logger.Named("shutdown"),
	}
}

// OnShutdown registers a release function. Release functions run after the
// server has stopped, in reverse registration order.
func (sc *ShutdownCoordinator) OnShutdown(name string, fn ReleaseFunc) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.releases = append(sc.releases, release{name: name, fn: fn})
}

// State returns the current state.
func (sc *ShutdownCoordinator) State() ShutdownState {
	return ShutdownState(sc.state.Load())
}

// Shutdown stops accepting connections, waits up to the grace period for
// in-flight requests, force-closes whatever remains and then runs the release
// functions. Later calls return the result of the first.
func (sc *ShutdownCoordinator) Shutdown(ctx context.Context) error {
	sc.once.Do(func() {
		sc.err = sc.shutdown(ctx)
	})
	return sc.err
}

func (sc *ShutdownCoordinator) shutdown(ctx context.Context) error {
	if !sc.state.CompareAndSwap(int32(StateRunning), int32(StateDraining)) {
		return nil
	}
	sc.logger.Info("draining in-flight requests", zap.Duration("grace_period", sc.grace))

	var errs []error

	drainCtx, cancel := context.WithTimeout(ctx, sc.grace)
	err := sc.server.Shutdown(drainCtx)
	cancel()

	if err != nil {
		sc.logger.Warn("grace period expired, closing connections", zap.Error(err))
		if closeErr := sc.server.Close(); closeErr != nil {
			errs = append(errs, fmt.Errorf("close server: %w", closeErr))
		}
		errs = append(errs, fmt.Errorf("%w: %v", ErrForcedShutdown, err))
	}

	sc.mu.Lock()
	releases := make([]release, len(sc.releases))
	copy(releases, sc.releases)
	sc.mu.Unlock()

	// The logger itself may be among the releases, so nothing is logged
	// after they start except release failures.
	sc.logger.Info("server stopped, releasing resources", zap.Int("releases", len(releases)))

	releaseCtx := context.WithoutCancel(ctx)
	for i := len(releases) - 1; i >= 0; i-- {
		r := releases[i]
		if err := r.fn(releaseCtx); err != nil {
			sc.logger.Warn("release failed", zap.String("resource", r.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("release %s: %w", r.name, err))
		}
	}

	sc.state.Store(int32(StateStopped))
	return errors.Join(errs...)
}

// Run calls serve and blocks until it fails, ctx is cancelled, or SIGINT or
// SIGTERM arrives, then shuts down. serve must return http.ErrServerClosed
// after Shutdown, as http.Server.ListenAndServe does.
func (sc *ShutdownCoordinator) Run(ctx context.Context, serve func() error) error {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- serve()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			shutdownErr := sc.Shutdown(context.Background())
			return errors.Join(fmt.Errorf("server error: %w", err), shutdownErr)
		}
		return sc.Shutdown(context.Background())
	case <-sigCtx.Done():
		sc.logger.Info("shutdown signal received")
	}

	err := sc.Shutdown(context.Background())
	if serr := <-serveErr; serr != nil && !errors.Is(serr, http.ErrServerClosed) {
		err = errors.Join(err, fmt.Errorf("server error: %w", serr))
	}
	return err
}
