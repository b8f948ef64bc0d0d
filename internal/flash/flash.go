// Package flash carries one-shot user messages across a redirect in a
// short-lived cookie.
package flash

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CookieName = "flash"
	contextKey = "flash_messages"
	maxAge     = 60
)

type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

type Message struct {
	Level Level  `json:"level"`
	Text  string `json:"text"`
}

// Add queues a message for the next request. Messages queued earlier in the
// same request or still pending from a previous one are kept.
func Add(c *gin.Context, level Level, text string) {
	messages := pending(c)
	messages = append(messages, Message{Level: level, Text: text})
	c.Set(contextKey, messages)
	write(c, messages, maxAge)
}

func Info(c *gin.Context, text string) {
	Add(c, LevelInfo, text)
}

func Error(c *gin.Context, text string) {
	Add(c, LevelError, text)
}

// Pop returns pending messages and clears them.
func Pop(c *gin.Context) []Message {
	messages := pending(c)
	c.Set(contextKey, []Message(nil))
	if len(messages) > 0 {
		write(c, nil, -1)
	}
	return messages
}

func pending(c *gin.Context) []Message {
	if v, ok := c.Get(contextKey); ok {
		messages, _ := v.([]Message)
		return messages
	}
	raw, err := c.Cookie(CookieName)
	if err != nil || raw == "" {
		return nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil
	}
	var messages []Message
	if err := json.Unmarshal(decoded, &messages); err != nil {
		return nil
	}
	return messages
}

func write(c *gin.Context, messages []Message, age int) {
	value := ""
	if len(messages) > 0 {
		encoded, err := json.Marshal(messages)
		if err != nil {
			return
		}
		value = base64.RawURLEncoding.EncodeToString(encoded)
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, value, age, "/", "", false, true)
}
