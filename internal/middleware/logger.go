package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"logingate/internal/models"
)

const loginOutcomeKey = "login_outcome"

// RecordLogin notes a login attempt for the access log. A successful login
// also makes the new session current for the rest of the request.
func RecordLogin(c *gin.Context, outcome string, session models.Session) {
	c.Set(loginOutcomeKey, outcome)
	if session.ID != "" {
		c.Set(CurrentSessionKey, session)
	}
}

// Logger writes one access line per request. Sessions are identified by ID;
// the token never reaches the log.
func Logger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		reqLog := RequestLogger(c, log)

		event := reqLog.Info()
		if status >= 500 {
			event = reqLog.Error()
		} else if status >= 400 {
			event = reqLog.Warn()
		}

		event = event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("client_ip", c.ClientIP()).
			Int("status", status).
			Dur("latency", latency)
		if session, ok := CurrentSession(c); ok {
			event = event.Str("session_id", session.ID)
		}
		if outcome := c.GetString(loginOutcomeKey); outcome != "" {
			event = event.Str("login_outcome", outcome)
		}
		event.Msg("http request")
	}
}
