// Package middleware provides the HTTP middleware of the webapp request pipeline.
package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/piwi3910/webapp/internal/config"
)

// SecurityHeadersConfig contains configuration for security headers middleware.
type SecurityHeadersConfig struct {
	// Enabled controls whether security headers are added
	Enabled bool

	// HSTSMaxAge is the max-age for Strict-Transport-Security header (in seconds)
	// Default: 31536000 (1 year). Zero omits the header.
	HSTSMaxAge int

	// HSTSIncludeSubDomains includes subdomains in HSTS
	HSTSIncludeSubDomains bool

	// HSTSPreload enables HSTS preload
	HSTSPreload bool

	// ContentSecurityPolicy is the Content-Security-Policy header value
	ContentSecurityPolicy string

	// FrameOptions is the X-Frame-Options header value
	// Default: "SAMEORIGIN"
	FrameOptions string

	// ReferrerPolicy is the Referrer-Policy header value
	// Default: "no-referrer"
	ReferrerPolicy string
}

// DefaultSecurityHeadersConfig returns the default security headers configuration.
func DefaultSecurityHeadersConfig() *SecurityHeadersConfig {
	return &SecurityHeadersConfig{
		Enabled:               true,
		HSTSMaxAge:            31536000, // 1 year
		HSTSIncludeSubDomains: true,
		HSTSPreload:           true,
		ContentSecurityPolicy: "default-src 'self'; style-src 'self' 'unsafe-inline'; " +
			"script-src 'self'; img-src 'self' data: https:",
		FrameOptions:   "SAMEORIGIN",
		ReferrerPolicy: "no-referrer",
	}
}

// SecurityHeadersFromConfig builds the middleware configuration from the
// service configuration, keeping defaults for the fixed headers.
func SecurityHeadersFromConfig(cfg config.HeadersConfig) *SecurityHeadersConfig {
	headers := DefaultSecurityHeadersConfig()
	headers.Enabled = cfg.Enabled
	headers.HSTSMaxAge = cfg.HSTSMaxAge
	headers.HSTSIncludeSubDomains = cfg.HSTSIncludeSubDomains
	headers.HSTSPreload = cfg.HSTSPreload
	if cfg.ContentSecurityPolicy != "" {
		headers.ContentSecurityPolicy = cfg.ContentSecurityPolicy
	}
	return headers
}

// SecurityHeaders returns a Gin middleware that adds security headers to responses.
//
// Headers added:
//   - Content-Security-Policy: configured policy
//   - Strict-Transport-Security: max-age, includeSubDomains and preload as configured
//   - X-Content-Type-Options: nosniff
//   - X-Frame-Options: SAMEORIGIN
//   - Referrer-Policy: no-referrer
//   - Cross-Origin-Opener-Policy and Cross-Origin-Resource-Policy: same-origin
//   - X-DNS-Prefetch-Control, X-Download-Options, X-Permitted-Cross-Domain-Policies
//
// X-XSS-Protection is set to 0, which disables the legacy browser filter.
func SecurityHeaders(cfg *SecurityHeadersConfig) gin.HandlerFunc {
	if cfg == nil {
		cfg = DefaultSecurityHeadersConfig()
	}

	hsts := ""
	if cfg.HSTSMaxAge > 0 {
		hsts = BuildHSTSValue(cfg)
	}

	return func(c *gin.Context) {
		if !cfg.Enabled {
			c.Next()
			return
		}

		h := c.Writer.Header()
		if cfg.ContentSecurityPolicy != "" {
			h.Set("Content-Security-Policy", cfg.ContentSecurityPolicy)
		}
		if hsts != "" {
			h.Set("Strict-Transport-Security", hsts)
		}
		h.Set("Cross-Origin-Opener-Policy", "same-origin")
		h.Set("Cross-Origin-Resource-Policy", "same-origin")
		h.Set("Origin-Agent-Cluster", "?1")
		h.Set("Referrer-Policy", cfg.ReferrerPolicy)
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-DNS-Prefetch-Control", "off")
		h.Set("X-Download-Options", "noopen")
		h.Set("X-Frame-Options", cfg.FrameOptions)
		h.Set("X-Permitted-Cross-Domain-Policies", "none")
		h.Set("X-XSS-Protection", "0")

		c.Next()
	}
}

// BuildHSTSValue constructs the Strict-Transport-Security header value.
func BuildHSTSValue(cfg *SecurityHeadersConfig) string {
	value := "max-age=" + strconv.Itoa(cfg.HSTSMaxAge)
	if cfg.HSTSIncludeSubDomains {
		value += "; includeSubDomains"
	}
	if cfg.HSTSPreload {
		value += "; preload"
	}
	return value
}
