package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	applog "logingate/internal/log"
)

const (
	requestIDHeader = "X-Request-Id"
	requestIDKey    = "request_id"

	maxRequestIDLength = 64
)

// RequestID tags each request with an id, echoes it in the response and puts
// a logger carrying it on the request context. Handlers and services read
// that logger back with log.FromContext.
func RequestID(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" || len(requestID) > maxRequestIDLength {
			requestID = uuid.NewString()
		}

		c.Set(requestIDKey, requestID)
		c.Writer.Header().Set(requestIDHeader, requestID)

		reqLog := log.With().Str("request_id", requestID).Logger()
		c.Request = c.Request.WithContext(reqLog.WithContext(c.Request.Context()))

		c.Next()
	}
}

// RequestLogger returns the logger RequestID attached, or fallback.
func RequestLogger(c *gin.Context, fallback zerolog.Logger) zerolog.Logger {
	return applog.FromContext(c.Request.Context(), fallback)
}
