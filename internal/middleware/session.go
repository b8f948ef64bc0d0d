package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"logingate/internal/audit"
	"logingate/internal/flash"
	"logingate/internal/models"
	"logingate/internal/service"
)

const (
	CurrentSessionKey = "current_session"
	LoginPath         = "/login"

	MessageSessionTimedOut = "Session timed out due to inactivity"
	MessageSessionReplaced = "You have been logged out due to another login session"
)

// Session admits a request only with a live, current session. Expired and
// superseded sessions are dropped and the caller is sent back to the login
// page; a superseded client also loses its remember-me cookie. Without any
// session the remember-me cookie is tried.
func Session(
	sessions *service.SessionManager,
	remember *service.RememberService,
	cookies Cookies,
	publisher audit.Publisher,
	log zerolog.Logger,
) gin.HandlerFunc {
	if publisher == nil {
		publisher = audit.NopPublisher{}
	}
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		reqLog := RequestLogger(c, log)
		token := cookies.SessionToken(c)

		session, err := sessions.Validate(ctx, token)
		switch {
		case err == nil:
			c.Set(CurrentSessionKey, session)
			c.Next()
			return

		case errors.Is(err, service.ErrSessionExpired):
			cookies.ClearSession(c)
			flash.Info(c, MessageSessionTimedOut)
			publishQuietly(c, publisher, reqLog, audit.Event{
				Type:      audit.EventSessionExpired,
				Reason:    "idle timeout",
				IPAddress: c.ClientIP(),
				UserAgent: c.Request.UserAgent(),
			})
			redirectToLogin(c)
			return

		case errors.Is(err, service.ErrSessionSuperseded):
			if err := sessions.Destroy(ctx, token); err != nil {
				reqLog.Error().Err(err).Str("session_id", session.ID).Msg("destroy superseded session failed")
			}
			// A remember cookie left behind would resume over the newer login.
			cookies.ClearSession(c)
			cookies.ClearRemember(c)
			flash.Info(c, MessageSessionReplaced)
			publishQuietly(c, publisher, reqLog, audit.Event{
				Type:      audit.EventSessionSuperseded,
				Email:     session.Email,
				SessionID: session.ID,
				Reason:    "stale session rejected",
				IPAddress: c.ClientIP(),
				UserAgent: c.Request.UserAgent(),
			})
			redirectToLogin(c)
			return

		case errors.Is(err, service.ErrNoSession):
			if token != "" {
				cookies.ClearSession(c)
			}

		default:
			reqLog.Error().Err(err).Msg("validate session failed")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal_server_error"})
			return
		}

		value := cookies.RememberValue(c)
		if value == "" || remember == nil {
			redirectToLogin(c)
			return
		}

		resumed, err := remember.Resume(ctx, value)
		if err != nil {
			if errors.Is(err, service.ErrInvalidRememberToken) ||
				errors.Is(err, service.ErrUserNotFound) ||
				errors.Is(err, service.ErrAccountLocked) {
				cookies.ClearRemember(c)
				redirectToLogin(c)
				return
			}
			reqLog.Error().Err(err).Msg("resume remembered session failed")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal_server_error"})
			return
		}

		cookies.SetSession(c, resumed.Token)
		c.Set(CurrentSessionKey, resumed)
		c.Next()
	}
}

func CurrentSession(c *gin.Context) (models.Session, bool) {
	v, ok := c.Get(CurrentSessionKey)
	if !ok {
		return models.Session{}, false
	}
	session, ok := v.(models.Session)
	return session, ok
}

func redirectToLogin(c *gin.Context) {
	c.Redirect(http.StatusFound, LoginPath)
	c.Abort()
}

func publishQuietly(c *gin.Context, publisher audit.Publisher, log zerolog.Logger, event audit.Event) {
	if err := publisher.Publish(c.Request.Context(), event); err != nil {
		log.Warn().Err(err).Str("event", string(event.Type)).Msg("audit publish failed")
	}
}
