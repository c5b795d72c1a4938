package observability

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Metric names recorded for every request.
const (
	MetricRequestDuration   = "http_request_duration_seconds"
	MetricRequestsTotal     = "http_requests_total"
	MetricActiveConnections = "active_connections"
)

const (
	// RouteUnmatched labels requests the router could not match.
	RouteUnmatched = "unmatched"

	// MethodOther labels requests with a non-standard method.
	MethodOther = "OTHER"

	// StatusClientClosed labels requests whose client went away before
	// any response was written.
	StatusClientClosed = 0

	// HeaderRequestID carries the correlation id in and out.
	HeaderRequestID = "X-Request-ID"

	// CorrelationIDKey is the gin context key holding the correlation id.
	CorrelationIDKey = "correlation_id"

	requestContextKey = "observability.request_context"
)

// DefaultDurationBuckets are the request duration histogram boundaries in seconds.
var DefaultDurationBuckets = []float64{0.1, 0.3, 0.5, 0.7, 1, 3, 5, 7, 10}

var knownMethods = map[string]struct{}{
	http.MethodGet:     {},
	http.MethodHead:    {},
	http.MethodPost:    {},
	http.MethodPut:     {},
	http.MethodPatch:   {},
	http.MethodDelete:  {},
	http.MethodOptions: {},
	http.MethodConnect: {},
	http.MethodTrace:   {},
}

// RequestContext is attached to each request when it enters the pipeline.
type RequestContext struct {
	Start         time.Time
	Method        string
	Route         string
	CorrelationID string
}

// RequestContextFrom returns the request context attached by the tracker.
func RequestContextFrom(c *gin.Context) (*RequestContext, bool) {
	value, ok := c.Get(requestContextKey)
	if !ok {
		return nil, false
	}
	rc, ok := value.(*RequestContext)
	return rc, ok
}

// LifecycleTracker observes every request exactly once: one duration sample,
// one counter increment and one in-flight gauge decrement, plus one log record.
type LifecycleTracker struct {
	registry *Registry
	requests *RequestLogger
	logger   *zap.Logger
}

// NewLifecycleTracker registers the request metrics on the registry.
// A registration failure is returned and should abort startup.
func NewLifecycleTracker(registry *Registry, requests *RequestLogger, logger *zap.Logger, buckets []float64) (*LifecycleTracker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(buckets) == 0 {
		buckets = DefaultDurationBuckets
	}

	labels := []string{"method", "route", "status_code"}
	defs := []MetricDefinition{
		{
			Name:       MetricRequestDuration,
			Kind:       KindHistogram,
			Help:       "Duration of HTTP requests in seconds",
			LabelNames: labels,
			Buckets:    buckets,
		},
		{
			Name:       MetricRequestsTotal,
			Kind:       KindCounter,
			Help:       "Total number of HTTP requests",
			LabelNames: labels,
		},
		{
			Name: MetricActiveConnections,
			Kind: KindGauge,
			Help: "Number of active connections",
		},
	}
	for _, def := range defs {
		if err := registry.Register(def); err != nil {
			return nil, fmt.Errorf("failed to register request metrics: %w", err)
		}
	}

	return &LifecycleTracker{
		registry: registry,
		requests: requests,
		logger:   logger.Named("lifecycle"),
	}, nil
}

// Middleware returns the gin middleware that starts and completes the
// request lifecycle. Completion fires once on normal return, on a panic
// unwinding through the middleware, or when the client disconnects before
// anything was written.
func (t *LifecycleTracker) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		rc := &RequestContext{
			Start:         time.Now(),
			Method:        normalizeMethod(c.Request.Method),
			Route:         routeOf(c),
			CorrelationID: c.GetString(CorrelationIDKey),
		}
		if rc.CorrelationID == "" {
			rc.CorrelationID = c.GetHeader(HeaderRequestID)
		}
		c.Set(requestContextKey, rc)

		// Everything the completion needs is captured up front; the gin
		// context is recycled once the handler chain returns.
		rec := RequestRecord{
			Method:        c.Request.Method,
			URL:           c.Request.URL.RequestURI(),
			Route:         rc.Route,
			UserAgent:     c.Request.UserAgent(),
			ClientIP:      c.ClientIP(),
			CorrelationID: rc.CorrelationID,
		}

		writer := &trackingWriter{ResponseWriter: c.Writer}
		c.Writer = writer

		t.adjustActive(1)

		var once sync.Once
		complete := func(status, size int, err error) {
			once.Do(func() {
				rec.Status = status
				rec.Bytes = size
				rec.Err = err
				t.complete(rc, rec)
			})
		}

		ctx := c.Request.Context()
		stop := context.AfterFunc(ctx, func() {
			if !writer.committed() {
				complete(StatusClientClosed, 0, ctx.Err())
			}
		})

		defer func() {
			stop()
			if r := recover(); r != nil {
				complete(http.StatusInternalServerError, writer.Size(), fmt.Errorf("panic: %v", r))
				panic(r)
			}
		}()

		c.Next()

		status := writer.Status()
		var err error
		if last := c.Errors.Last(); last != nil {
			err = last.Err
		}
		if ctx.Err() != nil && !writer.committed() {
			status = StatusClientClosed
			err = ctx.Err()
		}
		complete(status, writer.Size(), err)
	}
}

func (t *LifecycleTracker) complete(rc *RequestContext, rec RequestRecord) {
	rec.Duration = time.Since(rc.Start)

	labels := Labels{
		"method":      rc.Method,
		"route":       rc.Route,
		"status_code": strconv.Itoa(rec.Status),
	}

	if err := t.registry.Observe(MetricRequestDuration, labels, rec.Duration.Seconds()); err != nil {
		t.logger.Warn("failed to record request duration", zap.Error(err))
	}
	if err := t.registry.Add(MetricRequestsTotal, labels, 1); err != nil {
		t.logger.Warn("failed to count request", zap.Error(err))
	}
	t.adjustActive(-1)

	if t.requests != nil {
		t.requests.Log(rec)
	}
}

func (t *LifecycleTracker) adjustActive(delta float64) {
	if err := t.registry.Add(MetricActiveConnections, nil, delta); err != nil {
		t.logger.Warn("failed to update active connections", zap.Error(err))
	}
}

func normalizeMethod(method string) string {
	if _, ok := knownMethods[method]; ok {
		return method
	}
	return MethodOther
}

func routeOf(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return RouteUnmatched
}

// trackingWriter records whether any bytes reached the client so the
// disconnect path can run without touching the gin context.
type trackingWriter struct {
	gin.ResponseWriter
	wrote atomic.Bool
}

func (w *trackingWriter) Write(data []byte) (int, error) {
	n, err := w.ResponseWriter.Write(data)
	w.wrote.Store(true)
	return n, err
}

func (w *trackingWriter) WriteString(s string) (int, error) {
	n, err := w.ResponseWriter.WriteString(s)
	w.wrote.Store(true)
	return n, err
}

func (w *trackingWriter) WriteHeaderNow() {
	w.ResponseWriter.WriteHeaderNow()
	w.wrote.Store(true)
}

func (w *trackingWriter) Flush() {
	w.ResponseWriter.Flush()
	w.wrote.Store(true)
}

func (w *trackingWriter) committed() bool {
	return w.wrote.Load()
}
