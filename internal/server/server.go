// Package server assembles the webapp request pipeline on Gin and owns the
// HTTP server lifecycle, including graceful shutdown.
package server

import (
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"

	"github.com/piwi3910/webapp/internal/config"
	"github.com/piwi3910/webapp/internal/events"
	"github.com/piwi3910/webapp/internal/handlers"
	"github.com/piwi3910/webapp/internal/middleware"
	"github.com/piwi3910/webapp/internal/observability"
	"github.com/piwi3910/webapp/internal/storage"
)

// Dependencies are the long-lived components the pipeline is built from.
// RateLimiter and Publisher are optional.
type Dependencies struct {
	Config      *config.Config
	Logger      *zap.Logger
	Registry    *observability.Registry
	Tracker     *observability.LifecycleTracker
	Health      *observability.HealthReporter
	Store       storage.Store
	Publisher   events.Publisher
	RateLimiter *middleware.RateLimiter
}

// Server represents the HTTP server of the webapp.
//
// The server provides:
//   - Health endpoints (/health, /health/liveness, /health/readiness)
//   - Prometheus metrics endpoint (/metrics)
//   - Service information (/, /api/status, /api/version)
//   - Versioned business routes (/api/v1/*)
//
// Every request passes through the same pipeline: correlation id, lifecycle
// instrumentation, error boundary, security headers, CORS and body limit.
type Server struct {
	config     *config.Config
	logger     *zap.Logger
	router     *gin.Engine
	httpServer *http.Server
	registry   *observability.Registry
	health     *observability.HealthReporter
	users      *handlers.UserHandler
	info       *handlers.InfoHandler
	validator  *middleware.OpenAPIValidator
	limiter    *middleware.RateLimiter
}

// New creates a new Server from its dependencies and sets up middleware and
// routes. It fails when a required dependency is missing or the request
// validator cannot be built.
func New(deps Dependencies) (*Server, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if deps.Registry == nil || deps.Tracker == nil {
		return nil, fmt.Errorf("metric registry and lifecycle tracker are required")
	}
	if deps.Health == nil {
		return nil, fmt.Errorf("health reporter cannot be nil")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}

	cfg := deps.Config
	gin.SetMode(cfg.Server.GinMode)

	s := &Server{
		config:   cfg,
		logger:   deps.Logger.Named("server"),
		router:   gin.New(),
		registry: deps.Registry,
		health:   deps.Health,
		users:    handlers.NewUserHandler(deps.Store, deps.Publisher, deps.Logger),
		info:     handlers.NewInfoHandler(cfg, deps.Health),
		limiter:  deps.RateLimiter,
	}

	if cfg.Validation.Enabled {
		validator, err := middleware.NewOpenAPIValidator(&middleware.OpenAPIConfig{
			SpecPath:        cfg.Validation.SpecPath,
			ValidateRequest: true,
			Logger:          deps.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create OpenAPI validator: %w", err)
		}
		s.validator = validator
	}

	s.setupMiddleware(deps.Tracker)
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:           net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:        s.Handler(),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	return s, nil
}

// setupMiddleware configures the global pipeline. Middleware runs in the
// order it is added: the tracker wraps the error boundary so that panics and
// handler errors are observed with their final status.
func (s *Server) setupMiddleware(tracker *observability.LifecycleTracker) {
	s.router.Use(middleware.RequestID(s.logger))
	s.router.Use(tracker.Middleware())
	s.router.Use(middleware.ErrorBoundary(s.logger, s.config.IsDevelopment()))

	if s.config.Security.Headers.Enabled {
		s.router.Use(middleware.SecurityHeaders(middleware.SecurityHeadersFromConfig(s.config.Security.Headers)))
	}

	s.router.Use(middleware.CORS(s.config.Security.CORS))
	s.router.Use(middleware.BodyLimit(s.config.Server.BodyLimitBytes))
}

// Router returns the underlying Gin router.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Handler returns the pipeline wrapped in response compression.
func (s *Server) Handler() http.Handler {
	return gzhttp.GzipHandler(s.router)
}

// HTTPServer returns the configured http.Server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}
