package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/piwi3910/webapp/internal/observability"
)

const maxRequestIDLength = 128

// RequestID assigns every request a correlation id. An incoming X-Request-ID
// is reused when it is short printable ASCII; otherwise a UUID is generated.
// The id is echoed in the response header, stored on the gin context and
// attached to a request-scoped logger.
func RequestID(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		id := c.GetHeader(observability.HeaderRequestID)
		if !validRequestID(id) {
			id = uuid.NewString()
			c.Request.Header.Set(observability.HeaderRequestID, id)
		}

		c.Set(observability.CorrelationIDKey, id)
		c.Header(observability.HeaderRequestID, id)

		ctx := observability.ContextWithLogger(c.Request.Context(),
			logger.With(zap.String("correlation_id", id)))
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// CorrelationID returns the id assigned by RequestID.
func CorrelationID(c *gin.Context) string {
	if id := c.GetString(observability.CorrelationIDKey); id != "" {
		return id
	}
	return c.GetHeader(observability.HeaderRequestID)
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}
