package middleware_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/piwi3910/webapp/internal/middleware"
)

func bodyLimitRouter(limit int64) *gin.Engine {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(middleware.ErrorBoundary(nil, false), middleware.BodyLimit(limit))
	router.POST("/echo", func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			_ = c.Error(err)
			return
		}
		c.String(http.StatusOK, string(body))
	})
	return router
}

func TestBodyLimit(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		chunked    bool
		wantStatus int
	}{
		{name: "within limit", body: "hello", wantStatus: http.StatusOK},
		{name: "exactly at limit", body: strings.Repeat("a", 16), wantStatus: http.StatusOK},
		{name: "declared length above limit", body: strings.Repeat("a", 17), wantStatus: http.StatusRequestEntityTooLarge},
		{name: "chunked body above limit", body: strings.Repeat("a", 64), chunked: true, wantStatus: http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(tt.body))
			if tt.chunked {
				req.ContentLength = -1
			}

			w := httptest.NewRecorder()
			bodyLimitRouter(16).ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusRequestEntityTooLarge {
				assert.Contains(t, w.Body.String(), "Request Entity Too Large")
				assert.Contains(t, w.Body.String(), "request body exceeds 16 bytes")
			} else {
				assert.Equal(t, tt.body, w.Body.String())
			}
		})
	}
}
