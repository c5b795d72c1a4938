package server_test

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/piwi3910/webapp/internal/server"
)

// startServer serves handler on a loopback listener and returns its base URL.
func startServer(t *testing.T, handler http.Handler) (*http.Server, string, <-chan error) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &http.Server{Handler: handler, ReadHeaderTimeout: time.Second}
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })

	return srv, "http://" + ln.Addr().String(), served
}

func TestShutdownDrainsInFlightRequests(t *testing.T) {
	started := make(chan struct{})
	srv, url, served := startServer(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		close(started)
		time.Sleep(100 * time.Millisecond)
		_, _ = io.WriteString(w, "done")
	}))

	sc := server.NewShutdownCoordinator(srv, 2*time.Second, zaptest.NewLogger(t))
	assert.Equal(t, server.StateRunning, sc.State())

	var (
		mu    sync.Mutex
		order []string
	)
	for _, name := range []string{"logger", "store", "health"} {
		sc.OnShutdown(name, func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, server.StateDraining, sc.State())
			order = append(order, name)
			return nil
		})
	}

	type result struct {
		status int
		body   string
		err    error
	}
	results := make(chan result, 1)
	go func() {
		resp, err := http.Get(url)
		if err != nil {
			results <- result{err: err}
			return
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		results <- result{status: resp.StatusCode, body: string(body)}
	}()

	<-started
	require.NoError(t, sc.Shutdown(context.Background()))

	res := <-results
	require.NoError(t, res.err)
	assert.Equal(t, http.StatusOK, res.status)
	assert.Equal(t, "done", res.body)

	assert.Equal(t, server.StateStopped, sc.State())
	assert.Equal(t, "stopped", sc.State().String())
	assert.Equal(t, []string{"health", "store", "logger"}, order)
	assert.ErrorIs(t, <-served, http.ErrServerClosed)

	_, err := http.Get(url)
	assert.Error(t, err, "listener closed")
}

func TestShutdownForceClosesAfterGrace(t *testing.T) {
	started := make(chan struct{})
	unblock := make(chan struct{})
	t.Cleanup(func() { close(unblock) })

	srv, url, _ := startServer(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		close(started)
		<-unblock
		w.WriteHeader(http.StatusOK)
	}))

	sc := server.NewShutdownCoordinator(srv, 50*time.Millisecond, nil)
	released := false
	sc.OnShutdown("store", func(context.Context) error {
		released = true
		return nil
	})

	clientErr := make(chan error, 1)
	go func() {
		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Get(url)
		if err == nil {
			_ = resp.Body.Close()
		}
		clientErr <- err
	}()

	<-started
	err := sc.Shutdown(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, server.ErrForcedShutdown)
	assert.True(t, released, "releases run after a forced close")
	assert.Equal(t, server.StateStopped, sc.State())

	assert.Error(t, <-clientErr, "in-flight request gets no response")
}

func TestShutdownRunsOnce(t *testing.T) {
	srv, _, _ := startServer(t, http.NotFoundHandler())
	sc := server.NewShutdownCoordinator(srv, time.Second, nil)

	var calls atomic.Int32
	releaseErr := errors.New("flush failed")
	sc.OnShutdown("logger", func(context.Context) error {
		calls.Add(1)
		return releaseErr
	})

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = sc.Shutdown(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, err := range errs {
		require.Error(t, err)
		assert.ErrorIs(t, err, releaseErr)
		assert.Contains(t, err.Error(), "release logger")
		assert.Same(t, errs[0], err)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &http.Server{Handler: http.NotFoundHandler(), ReadHeaderTimeout: time.Second}
	sc := server.NewShutdownCoordinator(srv, time.Second, zaptest.NewLogger(t))

	released := make(chan struct{})
	sc.OnShutdown("health", func(context.Context) error {
		close(released)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- sc.Run(ctx, func() error { return srv.Serve(ln) })
	}()

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	<-released
	assert.Equal(t, server.StateStopped, sc.State())
}

func TestRunReturnsServeError(t *testing.T) {
	srv := &http.Server{Handler: http.NotFoundHandler(), ReadHeaderTimeout: time.Second}
	sc := server.NewShutdownCoordinator(srv, time.Second, nil)

	released := false
	sc.OnShutdown("store", func(context.Context) error {
		released = true
		return nil
	})

	bindErr := errors.New("address already in use")
	err := sc.Run(context.Background(), func() error { return bindErr })
	require.Error(t, err)
	assert.ErrorIs(t, err, bindErr)
	assert.Contains(t, err.Error(), "server error")
	assert.True(t, released)
	assert.Equal(t, server.StateStopped, sc.State())
}

func TestShutdownStateString(t *testing.T) {
	assert.Equal(t, "running", server.StateRunning.String())
	assert.Equal(t, "draining", server.StateDraining.String())
	assert.Equal(t, "stopped", server.StateStopped.String())
	assert.Equal(t, "unknown", server.ShutdownState(42).String())
}

func TestShutdownLogsBeforeReleases(t *testing.T) {
	srv, _, _ := startServer(t, http.NotFoundHandler())

	core, logs := observer.New(zapcore.InfoLevel)
	sc := server.NewShutdownCoordinator(srv, time.Second, zap.New(core))

	var atFlush []string
	sc.OnShutdown("logger", func(context.Context) error {
		for _, entry := range logs.All() {
			atFlush = append(atFlush, entry.Message)
		}
		return nil
	})
	sc.OnShutdown("store", func(context.Context) error { return nil })

	require.NoError(t, sc.Shutdown(context.Background()))

	assert.Contains(t, atFlush, "server stopped, releasing resources")
	assert.Len(t, logs.All(), len(atFlush), "nothing logged after the logger is flushed")
}
