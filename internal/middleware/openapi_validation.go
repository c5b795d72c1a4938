package middleware

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/piwi3910/webapp/internal/apperrors"
)

// OpenAPISpecs embeds the OpenAPI specification files.
//
//go:embed specs/*.yaml
var OpenAPISpecs embed.FS

// DefaultSpecFile is the embedded specification of the versioned API.
const DefaultSpecFile = "specs/webapp.yaml"

// OpenAPIConfig holds configuration for the OpenAPI validation middleware.
type OpenAPIConfig struct {
	// SpecPath is the path to the OpenAPI specification file.
	// If empty, the embedded spec will be used.
	SpecPath string

	// ValidateRequest enables request validation against the OpenAPI spec.
	ValidateRequest bool

	// Logger is the logger for validation errors.
	Logger *zap.Logger
}

// OpenAPIValidator validates requests against an OpenAPI document.
// Routes absent from the document pass through unvalidated.
type OpenAPIValidator struct {
	config *OpenAPIConfig
	router routers.Router
	spec   *openapi3.T
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewOpenAPIValidator creates a validator and loads its specification,
// from SpecPath when set, otherwise from the embedded document.
func NewOpenAPIValidator(cfg *OpenAPIConfig) (*OpenAPIValidator, error) {
	if cfg == nil {
		cfg = &OpenAPIConfig{ValidateRequest: true}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	v := &OpenAPIValidator{
		config: cfg,
		logger: logger.Named("openapi"),
	}

	if cfg.SpecPath != "" {
		if err := v.LoadSpecFromFile(cfg.SpecPath); err != nil {
			return nil, err
		}
		return v, nil
	}

	content, err := OpenAPISpecs.ReadFile(DefaultSpecFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded OpenAPI spec: %w", err)
	}
	if err := v.LoadSpec(content); err != nil {
		return nil, err
	}
	return v, nil
}

// LoadSpec loads the OpenAPI specification from the given content.
func (v *OpenAPIValidator) LoadSpec(specContent []byte) error {
	spec, err := openapi3.NewLoader().LoadFromData(specContent)
	if err != nil {
		return fmt.Errorf("failed to parse OpenAPI spec: %w", err)
	}
	return v.install(spec, "embedded")
}

// LoadSpecFromFile loads the OpenAPI specification from a file path.
func (v *OpenAPIValidator) LoadSpecFromFile(path string) error {
	spec, err := openapi3.NewLoader().LoadFromFile(path)
	if err != nil {
		return fmt.Errorf("failed to load OpenAPI spec from file: %w", err)
	}
	return v.install(spec, path)
}

func (v *OpenAPIValidator) install(spec *openapi3.T, source string) error {
	if err := spec.Validate(context.Background()); err != nil {
		return fmt.Errorf("invalid OpenAPI spec: %w", err)
	}

	router, err := gorillamux.NewRouter(spec)
	if err != nil {
		return fmt.Errorf("failed to create OpenAPI router: %w", err)
	}

	v.mu.Lock()
	v.spec = spec
	v.router = router
	v.mu.Unlock()

	v.logger.Info("OpenAPI spec loaded",
		zap.String("source", source),
		zap.String("title", spec.Info.Title),
		zap.String("version", spec.Info.Version),
	)
	return nil
}

// Spec returns the loaded OpenAPI specification.
func (v *OpenAPIValidator) Spec() *openapi3.T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.spec
}

// Middleware returns a Gin middleware function for OpenAPI validation.
// Invalid requests are answered with 400 and the standard bad request body.
func (v *OpenAPIValidator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		v.mu.RLock()
		router := v.router
		v.mu.RUnlock()

		if router == nil || !v.config.ValidateRequest {
			c.Next()
			return
		}

		if !v.validateRequest(c, router) {
			return
		}
		c.Next()
	}
}

// validateRequest reports whether the request may proceed. On failure the
// request has already been aborted.
func (v *OpenAPIValidator) validateRequest(c *gin.Context, router routers.Router) bool {
	route, pathParams, err := router.FindRoute(c.Request)
	if err != nil {
		v.logger.Debug("route not found in OpenAPI spec",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
		)
		return true
	}

	input := &openapi3filter.RequestValidationInput{
		Request:    c.Request,
		PathParams: pathParams,
		Route:      route,
		Options: &openapi3filter.Options{
			MultiError:         true,
			AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
		},
	}

	if c.Request.Body != nil && c.Request.Body != http.NoBody {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			_ = c.Error(err)
			c.Abort()
			return false
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		defer func() {
			c.Request.Body = io.NopCloser(bytes.NewReader(body))
		}()
	}

	if err := openapi3filter.ValidateRequest(c.Request.Context(), input); err != nil {
		v.logger.Info("request validation failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("correlation_id", CorrelationID(c)),
			zap.Error(err),
		)
		c.AbortWithStatusJSON(http.StatusBadRequest, apperrors.BadRequest(formatValidationError(err, c.ContentType())))
		return false
	}

	return true
}

// formatValidationError turns a kin-openapi error into a client message.
func formatValidationError(err error, contentType string) string {
	if err == nil {
		return ""
	}

	var reqErr *openapi3filter.RequestError
	if errors.As(err, &reqErr) && reqErr.Parameter != nil {
		message := fmt.Sprintf("Invalid %s parameter %q", reqErr.Parameter.In, reqErr.Parameter.Name)
		var schemaErr *openapi3.SchemaError
		if errors.As(reqErr.Err, &schemaErr) && schemaErr.Reason != "" {
			message += ": " + schemaErr.Reason
		}
		return message
	}

	var parseErr *openapi3filter.ParseError
	if errors.As(err, &parseErr) {
		if contentType == gin.MIMEPOSTForm {
			return apperrors.MalformedFormMessage
		}
		return apperrors.MalformedJSONMessage
	}

	var schemaErr *openapi3.SchemaError
	if errors.As(err, &schemaErr) {
		if pointer := schemaErr.JSONPointer(); len(pointer) > 0 {
			return fmt.Sprintf("Invalid field %s: %s", pointer[len(pointer)-1], schemaErr.Reason)
		}
		return "Request body validation failed: " + schemaErr.Reason
	}

	return "Request validation failed"
}
