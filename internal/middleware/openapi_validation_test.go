package middleware_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/piwi3910/webapp/internal/apperrors"
	"github.com/piwi3910/webapp/internal/middleware"
)

func validatedRouter(t *testing.T, cfg *middleware.OpenAPIConfig) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	validator, err := middleware.NewOpenAPIValidator(cfg)
	require.NoError(t, err)

	router := gin.New()
	v1 := router.Group("/api/v1", validator.Middleware())
	v1.GET("/users", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"users": []any{}, "total": 0, "page": 1, "limit": 10})
	})
	v1.POST("/users", func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		require.NoError(t, err)
		c.Data(http.StatusCreated, "application/json", body)
	})
	v1.GET("/undocumented", func(c *gin.Context) {
		c.String(http.StatusOK, "free")
	})
	return router
}

func TestNewOpenAPIValidatorEmbeddedSpec(t *testing.T) {
	validator, err := middleware.NewOpenAPIValidator(nil)
	require.NoError(t, err)
	require.NotNil(t, validator.Spec())
	assert.Equal(t, "Webapp API", validator.Spec().Info.Title)
	assert.NotNil(t, validator.Spec().Paths.Find("/api/v1/users"))
}

func TestOpenAPIValidatorSpecFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "api.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
openapi: 3.0.3
info:
  title: File API
  version: 2.0.0
paths:
  /api/v1/items:
    get:
      responses:
        '200':
          description: OK
`), 0o600))

	validator, err := middleware.NewOpenAPIValidator(&middleware.OpenAPIConfig{SpecPath: path, ValidateRequest: true})
	require.NoError(t, err)
	assert.Equal(t, "File API", validator.Spec().Info.Title)

	_, err = middleware.NewOpenAPIValidator(&middleware.OpenAPIConfig{SpecPath: filepath.Join(t.TempDir(), "missing.yaml")})
	require.Error(t, err)
}

func TestOpenAPIValidatorLoadSpecRejectsGarbage(t *testing.T) {
	validator, err := middleware.NewOpenAPIValidator(nil)
	require.NoError(t, err)

	err = validator.LoadSpec([]byte("not: [valid"))
	require.Error(t, err)
	assert.Equal(t, "Webapp API", validator.Spec().Info.Title, "previous spec kept")
}

func TestOpenAPIValidatorMiddleware(t *testing.T) {
	router := validatedRouter(t, &middleware.OpenAPIConfig{ValidateRequest: true, Logger: zap.NewNop()})

	tests := []struct {
		name        string
		method      string
		target      string
		body        string
		contentType string
		wantStatus  int
		wantMessage string
	}{
		{name: "valid list", method: http.MethodGet, target: "/api/v1/users?page=2&limit=5", wantStatus: http.StatusOK},
		{
			name: "limit above cap passes to handler", method: http.MethodGet, target: "/api/v1/users?limit=1000",
			wantStatus: http.StatusOK,
		},
		{
			name: "limit below minimum", method: http.MethodGet, target: "/api/v1/users?limit=0",
			wantStatus: http.StatusBadRequest, wantMessage: `Invalid query parameter "limit"`,
		},
		{
			name: "non numeric page", method: http.MethodGet, target: "/api/v1/users?page=abc",
			wantStatus: http.StatusBadRequest, wantMessage: `Invalid query parameter "page"`,
		},
		{
			name: "valid create", method: http.MethodPost, target: "/api/v1/users",
			body: `{"name":"Ada","email":"ada@example.com"}`, contentType: "application/json",
			wantStatus: http.StatusCreated,
		},
		{
			name: "valid form create", method: http.MethodPost, target: "/api/v1/users",
			body: "name=Ada&email=ada%40example.com", contentType: "application/x-www-form-urlencoded",
			wantStatus: http.StatusCreated,
		},
		{
			name: "undeclared content type", method: http.MethodPost, target: "/api/v1/users",
			body: "<user/>", contentType: "application/xml",
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "missing fields pass to handler", method: http.MethodPost, target: "/api/v1/users",
			body: `{"name":"Ada"}`, contentType: "application/json",
			wantStatus: http.StatusCreated,
		},
		{
			name: "malformed json", method: http.MethodPost, target: "/api/v1/users",
			body: `{"name":`, contentType: "application/json",
			wantStatus: http.StatusBadRequest, wantMessage: apperrors.MalformedJSONMessage,
		},
		{
			name: "wrong field type", method: http.MethodPost, target: "/api/v1/users",
			body: `{"name":42,"email":"ada@example.com"}`, contentType: "application/json",
			wantStatus: http.StatusBadRequest, wantMessage: "Invalid field name",
		},
		{name: "route outside spec", method: http.MethodGet, target: "/api/v1/undocumented", wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader
			if tt.body != "" {
				body = strings.NewReader(tt.body)
			}
			req := httptest.NewRequest(tt.method, tt.target, body)
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}

			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())

			if tt.wantStatus == http.StatusBadRequest {
				var resp apperrors.BadRequestBody
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				assert.Equal(t, "Bad Request", resp.Error)
				assert.Contains(t, resp.Message, tt.wantMessage)
			}
			if tt.wantStatus == http.StatusCreated {
				assert.Equal(t, tt.body, w.Body.String(), "body still readable by handler")
			}
		})
	}
}

func TestOpenAPIValidatorDisabled(t *testing.T) {
	router := validatedRouter(t, &middleware.OpenAPIConfig{ValidateRequest: false})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/users?limit=0", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
