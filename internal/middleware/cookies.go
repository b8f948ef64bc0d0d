package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"logingate/internal/config"
)

// Cookies names and writes the session and remember-me cookies.
type Cookies struct {
	SessionName  string
	RememberName string
	Secure       bool
}

func NewCookies(cfg config.SecurityConfig) Cookies {
	return Cookies{
		SessionName:  cfg.SessionCookieName,
		RememberName: cfg.Remember.CookieName,
		Secure:       cfg.CookieSecure,
	}
}

func (k Cookies) SessionToken(c *gin.Context) string {
	v, _ := c.Cookie(k.SessionName)
	return v
}

func (k Cookies) RememberValue(c *gin.Context) string {
	v, _ := c.Cookie(k.RememberName)
	return v
}

// SetSession writes a browser-session cookie; lifetime is enforced server side.
func (k Cookies) SetSession(c *gin.Context, token string) {
	k.set(c, k.SessionName, token, 0)
}

func (k Cookies) ClearSession(c *gin.Context) {
	k.set(c, k.SessionName, "", -1)
}

func (k Cookies) SetRemember(c *gin.Context, value string, ttl time.Duration) {
	k.set(c, k.RememberName, value, int(ttl/time.Second))
}

func (k Cookies) ClearRemember(c *gin.Context) {
	k.set(c, k.RememberName, "", -1)
}

func (k Cookies) set(c *gin.Context, name, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, value, maxAge, "/", "", k.Secure, true)
}
