package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/piwi3910/webapp/internal/apperrors"
)

// ErrorBoundary turns panics and errors attached with c.Error into the JSON
// error body. It is the single place where failed requests are logged.
// Server error messages are only exposed when exposeDetails is set.
func ErrorBoundary(logger *zap.Logger, exposeDetails bool) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("errors")

	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			if r == http.ErrAbortHandler {
				panic(r)
			}

			err := &apperrors.InternalError{Op: "panic", Err: fmt.Errorf("%v", r)}
			_ = c.Error(err)
			logger.Error("panic recovered",
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.String("correlation_id", CorrelationID(c)),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			respondError(c, err, exposeDetails)
		}()

		c.Next()

		last := c.Errors.Last()
		if last == nil {
			return
		}

		err := normalizeError(last.Err)
		status := apperrors.StatusCode(err)
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("correlation_id", CorrelationID(c)),
			zap.Int("status", status),
			zap.Error(err),
		}
		if status >= http.StatusInternalServerError {
			logger.Error("request failed", fields...)
		} else {
			logger.Debug("request rejected", fields...)
		}

		if c.Writer.Written() {
			return
		}
		respondError(c, err, exposeDetails)
	}
}

// normalizeError maps errors raised by the standard library onto the taxonomy.
func normalizeError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return &apperrors.PayloadTooLargeError{Limit: tooLarge.Limit}
	}
	return err
}

func respondError(c *gin.Context, err error, expose bool) {
	c.AbortWithStatusJSON(apperrors.StatusCode(err), apperrors.NewResponse(err, CorrelationID(c), expose))
}
