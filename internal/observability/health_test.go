package observability_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/piwi3910/webapp/internal/observability"
)

func newReporter(logger *zap.Logger) *observability.HealthReporter {
	return observability.NewHealthReporter("test", "1.0.0", time.Second, 50*time.Millisecond, logger)
}

func TestLiveness(t *testing.T) {
	hr := newReporter(nil)
	assert.Equal(t, observability.StateStarting, hr.Liveness().Status)

	hr.MarkStarted()
	assert.Equal(t, observability.StateAlive, hr.Liveness().Status)

	// Liveness ignores dependency state.
	hr.RegisterStatic("database", observability.StatusDisconnected)
	assert.Equal(t, observability.StateAlive, hr.Liveness().Status)
}

func TestReadinessStatic(t *testing.T) {
	hr := newReporter(nil)
	for _, name := range []string{"database", "cache", "messaging"} {
		hr.RegisterStatic(name, observability.StatusConnected)
	}

	resp := hr.Readiness()
	assert.Equal(t, observability.StateReady, resp.Status)
	assert.Equal(t, map[string]observability.DependencyStatus{
		"database":  observability.StatusConnected,
		"cache":     observability.StatusConnected,
		"messaging": observability.StatusConnected,
	}, resp.Checks)
	assert.Equal(t, []string{"cache", "database", "messaging"}, hr.Dependencies())
}

func TestReadinessNoDependencies(t *testing.T) {
	resp := newReporter(nil).Readiness()
	assert.Equal(t, observability.StateReady, resp.Status)
	assert.Empty(t, resp.Checks)
}

func TestReadinessChecks(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	hr := newReporter(zap.New(core))

	var cacheUp atomic.Bool
	hr.RegisterStatic("database", observability.StatusConnected)
	hr.RegisterCheck("cache", func(_ context.Context) error {
		if cacheUp.Load() {
			return nil
		}
		return errors.New("connection refused")
	})

	// Not yet checked.
	resp := hr.Readiness()
	assert.Equal(t, observability.StateNotReady, resp.Status)
	assert.Equal(t, observability.StatusUnknown, resp.Checks["cache"])

	hr.Refresh(context.Background())
	resp = hr.Readiness()
	assert.Equal(t, observability.StateNotReady, resp.Status)
	assert.Equal(t, observability.StatusDisconnected, resp.Checks["cache"])
	assert.Equal(t, observability.StatusConnected, resp.Checks["database"])

	// A repeated failure is not logged again.
	hr.Refresh(context.Background())
	assert.Equal(t, 1, logs.FilterMessage("dependency unavailable").Len())

	cacheUp.Store(true)
	hr.Refresh(context.Background())
	resp = hr.Readiness()
	assert.Equal(t, observability.StateReady, resp.Status)
	assert.Equal(t, 1, logs.FilterMessage("dependency connected").Len())

	entry := logs.FilterMessage("dependency unavailable").All()[0]
	assert.Equal(t, "cache", entry.ContextMap()["dependency"])
}

func TestCheckTimeout(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	hr := newReporter(zap.New(core))

	hr.RegisterCheck("messaging", func(_ context.Context) error {
		time.Sleep(time.Second)
		return nil
	})

	start := time.Now()
	hr.Refresh(context.Background())
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, observability.StatusDisconnected, hr.Readiness().Checks["messaging"])

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].ContextMap()["error"], "dependency messaging unavailable")
}

func TestCheckErrorIsDependencyUnavailable(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	hr := newReporter(zap.New(core))
	cause := errors.New("dial tcp: refused")
	hr.RegisterCheck("cache", func(_ context.Context) error { return cause })

	hr.Refresh(context.Background())

	require.Equal(t, 1, logs.Len())
	errText, ok := logs.All()[0].ContextMap()["error"].(string)
	require.True(t, ok)
	assert.Equal(t, (&observability.DependencyUnavailableError{Dependency: "cache", Err: cause}).Error(), errText)
}

func TestReadinessDoesNotRunChecks(t *testing.T) {
	hr := newReporter(nil)
	var calls atomic.Int32
	hr.RegisterCheck("database", func(_ context.Context) error {
		calls.Add(1)
		return nil
	})

	for range 10 {
		hr.Readiness()
	}
	assert.Zero(t, calls.Load())

	hr.Refresh(context.Background())
	assert.Equal(t, int32(1), calls.Load())
}

func TestRunRefreshesUntilCancelled(t *testing.T) {
	hr := observability.NewHealthReporter("test", "1.0.0", 10*time.Millisecond, 5*time.Millisecond, nil)
	var calls atomic.Int32
	hr.RegisterCheck("cache", func(_ context.Context) error {
		calls.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hr.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return hr.Readiness().Status == observability.StateReady
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.Positive(t, calls.Load())
}

func TestHealth(t *testing.T) {
	hr := observability.NewHealthReporter("production", "2.0.0", time.Second, time.Second, nil)

	resp := hr.Health()
	assert.Equal(t, observability.StateHealthy, resp.Status)
	assert.Equal(t, "production", resp.Environment)
	assert.Equal(t, "2.0.0", resp.Version)
	assert.Equal(t, os.Getpid(), resp.PID)
	assert.GreaterOrEqual(t, resp.Uptime, 0.0)
	assert.Positive(t, resp.Memory.Sys)
	assert.WithinDuration(t, time.Now(), resp.Timestamp, time.Minute)

	body, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	for _, key := range []string{"status", "timestamp", "uptime", "environment", "version", "memory", "pid"} {
		assert.Contains(t, decoded, key)
	}
	assert.Contains(t, decoded["memory"], "heapAlloc")
}
