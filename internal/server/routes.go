package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/piwi3910/webapp/internal/apperrors"
	"github.com/piwi3910/webapp/internal/observability"
)

// NotFoundMessage is the message of the 404 fallback.
const NotFoundMessage = "The requested resource was not found"

// setupRoutes configures all HTTP routes:
//   - Health, liveness and readiness endpoints
//   - Prometheus metrics endpoint
//   - Service information endpoints
//   - /api/v1 business routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/health/liveness", s.handleLiveness)
	s.router.GET("/health/readiness", s.handleReadiness)

	if s.config.Observability.Metrics.Enabled {
		s.router.GET(s.config.Observability.Metrics.Path, s.handleMetrics)
	}

	s.router.GET("/", s.info.Root)
	s.router.GET("/api/status", s.info.Status)
	s.router.GET("/api/version", s.info.Version)

	v1 := s.router.Group("/api/v1", VersionHeaders(V1))
	if s.limiter != nil {
		v1.Use(s.limiter.Middleware())
	}
	if s.validator != nil {
		v1.Use(s.validator.Middleware())
	}
	{
		v1.GET("/users", s.users.ListUsers)
		v1.POST("/users", s.users.CreateUser)
		v1.GET("/users/:id", s.users.GetUser)
	}

	// Unknown paths and known paths with another method both end here.
	s.router.NoRoute(s.handleNotFound)
}

// handleHealth returns process information.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, s.health.Health())
}

// handleLiveness returns 200 once the server has started, regardless of
// dependency state.
func (s *Server) handleLiveness(c *gin.Context) {
	resp := s.health.Liveness()

	status := http.StatusOK
	if resp.Status != observability.StateAlive {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

// handleReadiness returns the cached dependency checks; 503 unless all are
// connected.
func (s *Server) handleReadiness(c *gin.Context) {
	resp := s.health.Readiness()

	status := http.StatusOK
	if resp.Status != observability.StateReady {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

// handleMetrics renders the registry in the text exposition format.
func (s *Server) handleMetrics(c *gin.Context) {
	body, err := s.registry.Render()
	if err != nil {
		_ = c.Error(&apperrors.InternalError{Op: "render metrics", Err: err})
		return
	}
	c.Data(http.StatusOK, observability.ContentType, body)
}

// handleNotFound answers requests no route matched.
func (s *Server) handleNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{
		"error":     "Not found",
		"message":   NotFoundMessage,
		"path":      c.Request.URL.RequestURI(),
		"method":    c.Request.Method,
		"timestamp": time.Now().UTC(),
	})
}
