package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/piwi3910/webapp/internal/apperrors"
)

// BodyLimit caps request bodies at limit bytes. Requests that declare a
// larger Content-Length are rejected with 413 before any handler runs;
// chunked bodies are cut off by http.MaxBytesReader when read.
func BodyLimit(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit <= 0 || c.Request.Body == nil {
			c.Next()
			return
		}

		if c.Request.ContentLength > limit {
			_ = c.Error(&apperrors.PayloadTooLargeError{Limit: limit})
			c.Abort()
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}
