package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"logingate/internal/flash"
	"logingate/internal/middleware"
	"logingate/internal/models"
	"logingate/internal/service"
)

const (
	homePath = "/"

	messageMissingFields   = "Email and password are required"
	messageUserNotFound    = "User not found"
	messageAccountLocked   = "Account is locked. Please contact support."
	messageInvalidPassword = "Invalid password"
	messageLoggedOut       = "You have been logged out"
	messageResetPassword   = "Password reset functionality is not implemented yet."
)

type loginForm struct {
	Email    string `form:"email" binding:"required"`
	Password string `form:"password" binding:"required"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Remember bool   `json:"remember"`
}

// bindLogin accepts a JSON body or an HTML form. For forms any value of the
// remember checkbox counts as checked.
func bindLogin(c *gin.Context) (loginRequest, error) {
	if c.ContentType() == binding.MIMEJSON {
		var req loginRequest
		err := c.ShouldBindJSON(&req)
		return req, err
	}
	var form loginForm
	if err := c.ShouldBind(&form); err != nil {
		return loginRequest{}, err
	}
	_, remember := c.GetPostForm("remember")
	return loginRequest{Email: form.Email, Password: form.Password, Remember: remember}, nil
}

func (h HandlerSet) LoginPage(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"messages": flash.Pop(c)})
}

func (h HandlerSet) Login(c *gin.Context) {
	req, err := bindLogin(c)
	if err != nil {
		flash.Error(c, messageMissingFields)
		c.Redirect(http.StatusFound, middleware.LoginPath)
		return
	}

	result, err := h.authService.Login(c.Request.Context(), service.LoginInput{
		Email:     req.Email,
		Password:  req.Password,
		Remember:  req.Remember,
		IPAddress: c.ClientIP(),
		UserAgent: c.GetHeader("User-Agent"),
	})
	if err != nil {
		middleware.RecordLogin(c, service.Outcome(err), models.Session{})
		switch {
		case errors.Is(err, service.ErrUserNotFound):
			flash.Error(c, messageUserNotFound)
		case errors.Is(err, service.ErrAccountLocked):
			flash.Error(c, messageAccountLocked)
		case errors.Is(err, service.ErrInvalidPassword):
			flash.Error(c, messageInvalidPassword)
		default:
			reqLog := middleware.RequestLogger(c, h.log)
			reqLog.Error().Err(err).Msg("login failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_server_error"})
			return
		}
		c.Redirect(http.StatusFound, middleware.LoginPath)
		return
	}

	middleware.RecordLogin(c, service.OutcomeSuccess, result.Session)
	if result.PriorSessionInvalidated {
		flash.Info(c, middleware.MessageSessionReplaced)
	}
	h.cookies.SetSession(c, result.Session.Token)
	if result.RememberToken != "" {
		h.cookies.SetRemember(c, result.RememberToken, h.cfg.Security.Remember.TTL)
	}
	c.Redirect(http.StatusFound, homePath)
}

func (h HandlerSet) Logout(c *gin.Context) {
	if err := h.authService.Logout(c.Request.Context(), h.cookies.SessionToken(c)); err != nil {
		reqLog := middleware.RequestLogger(c, h.log)
		reqLog.Error().Err(err).Msg("logout failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_server_error"})
		return
	}

	h.cookies.ClearSession(c)
	h.cookies.ClearRemember(c)
	flash.Info(c, messageLoggedOut)
	c.Redirect(http.StatusFound, middleware.LoginPath)
}

func (h HandlerSet) ResetPassword(c *gin.Context) {
	flash.Info(c, messageResetPassword)
	c.Redirect(http.StatusFound, middleware.LoginPath)
}
