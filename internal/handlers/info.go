package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/piwi3910/webapp/internal/config"
	"github.com/piwi3910/webapp/internal/observability"
)

// InfoHandler serves the service banner, status and version routes.
type InfoHandler struct {
	config *config.Config
	health *observability.HealthReporter
}

// NewInfoHandler creates a new InfoHandler.
func NewInfoHandler(cfg *config.Config, health *observability.HealthReporter) *InfoHandler {
	if cfg == nil {
		panic("config cannot be nil")
	}
	if health == nil {
		panic("health reporter cannot be nil")
	}
	return &InfoHandler{config: cfg, health: health}
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Service      string                                    `json:"service"`
	Status       string                                    `json:"status"`
	Dependencies map[string]observability.DependencyStatus `json:"dependencies"`
	Features     map[string]string                         `json:"features"`
}

// VersionResponse is the body of GET /api/version.
type VersionResponse struct {
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	Build     string    `json:"build"`
	Commit    string    `json:"commit"`
	Timestamp time.Time `json:"timestamp"`
}

// Root handles GET /.
func (h *InfoHandler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":     h.config.Service.Name,
		"version":     h.config.Service.Version,
		"environment": h.config.Environment,
		"timestamp":   time.Now().UTC(),
		"endpoints": gin.H{
			"health":  "/health",
			"metrics": h.config.Observability.Metrics.Path,
			"api":     "/api",
		},
	})
}

// Status handles GET /api/status. Dependencies come from the cached
// readiness checks.
func (h *InfoHandler) Status(c *gin.Context) {
	readiness := h.health.Readiness()

	status := "operational"
	if readiness.Status != observability.StateReady {
		status = "degraded"
	}

	c.JSON(http.StatusOK, StatusResponse{
		Service:      h.config.Service.Name,
		Status:       status,
		Dependencies: readiness.Checks,
		Features: map[string]string{
			"rate_limiting": enabled(h.config.Security.RateLimit.Enabled),
			"monitoring":    enabled(h.config.Observability.Metrics.Enabled),
			"security":      enabled(h.config.Security.Headers.Enabled),
			"validation":    enabled(h.config.Validation.Enabled),
			"messaging":     enabled(h.config.Messaging.Enabled),
		},
	})
}

// Version handles GET /api/version.
func (h *InfoHandler) Version(c *gin.Context) {
	c.JSON(http.StatusOK, VersionResponse{
		Name:      h.config.Service.Name,
		Version:   h.config.Service.Version,
		Build:     h.config.Service.Build,
		Commit:    h.config.Service.Commit,
		Timestamp: time.Now().UTC(),
	})
}

func enabled(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}
