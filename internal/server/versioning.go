package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// VersionStatus constants for API version lifecycle.
const (
	VersionStatusStable     = "stable"
	VersionStatusDeprecated = "deprecated"
	VersionStatusSunset     = "sunset"
)

// APIVersion describes one mounted API version.
type APIVersion struct {
	// Version is the semantic version advertised in X-API-Version.
	Version string
	// Status indicates the version status (stable, deprecated, sunset).
	Status string
	// SunsetDate is when a deprecated version will be removed.
	SunsetDate *time.Time
	// DeprecationMessage provides information about migration.
	DeprecationMessage string
}

// V1 is the current /api/v1 version.
var V1 = APIVersion{Version: "1.0.0", Status: VersionStatusStable}

// VersionHeaders adds API version headers and handles deprecation notices.
// Sunset versions are answered with 410.
func VersionHeaders(v APIVersion) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-API-Version", v.Version)

		switch v.Status {
		case VersionStatusDeprecated:
			c.Header("Deprecation", "true")
			if v.DeprecationMessage != "" {
				c.Header("X-Deprecation-Notice", v.DeprecationMessage)
			}
			if v.SunsetDate != nil {
				c.Header("Sunset", v.SunsetDate.UTC().Format(http.TimeFormat))
			}
		case VersionStatusSunset:
			c.AbortWithStatusJSON(http.StatusGone, gin.H{
				"error":   http.StatusText(http.StatusGone),
				"message": "API version " + v.Version + " has been removed",
			})
			return
		}

		c.Next()
	}
}
