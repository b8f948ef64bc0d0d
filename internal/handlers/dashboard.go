package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"logingate/internal/flash"
	"logingate/internal/middleware"
)

type dashboardResponse struct {
	Message    string          `json:"message"`
	Email      string          `json:"email"`
	Role       string          `json:"role"`
	SessionID  string          `json:"sessionId"`
	Remembered bool            `json:"remembered"`
	Messages   []flash.Message `json:"messages,omitempty"`
}

func (h HandlerSet) Dashboard(c *gin.Context) {
	session, ok := middleware.CurrentSession(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	c.JSON(http.StatusOK, dashboardResponse{
		Message:    "Welcome, " + session.Email,
		Email:      session.Email,
		Role:       string(session.Role),
		SessionID:  session.ID,
		Remembered: session.Remembered,
		Messages:   flash.Pop(c),
	})
}

func (h HandlerSet) AdminDashboard(c *gin.Context) {
	session, _ := middleware.CurrentSession(c)
	c.JSON(http.StatusOK, gin.H{
		"message": "Admin area",
		"email":   session.Email,
	})
}
