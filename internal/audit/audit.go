package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"logingate/internal/ids"
)

type EventType string

const (
	EventLoginSucceeded    EventType = "login_succeeded"
	EventLoginFailed       EventType = "login_failed"
	EventAccountLocked     EventType = "account_locked"
	EventLogout            EventType = "logout"
	EventSessionExpired    EventType = "session_expired"
	EventSessionSuperseded EventType = "session_superseded"
	EventSessionResumed    EventType = "session_resumed"
)

// Event never carries session tokens or credentials.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Email     string    `json:"email"`
	SessionID string    `json:"sessionId"`
	Reason    string    `json:"reason"`
	IPAddress string    `json:"ipAddress"`
	UserAgent string    `json:"userAgent"`
	At        time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

// StreamPublisher appends events to a capped redis stream.
type StreamPublisher struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

func NewStreamPublisher(client redis.UniversalClient, stream string) *StreamPublisher {
	return &StreamPublisher{client: client, stream: stream, maxLen: 100000}
}

func (p *StreamPublisher) Publish(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = ids.New()
	}
	if event.At.IsZero() {
		event.At = time.Now()
	}
	_, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: Values(event),
	}).Result()
	if err != nil {
		return fmt.Errorf("publish audit event: %w", err)
	}
	return nil
}

// Values flattens an event into stream fields.
func Values(e Event) map[string]interface{} {
	return map[string]interface{}{
		"id":        e.ID,
		"type":      string(e.Type),
		"email":     e.Email,
		"sessionId": e.SessionID,
		"reason":    e.Reason,
		"ipAddress": e.IPAddress,
		"userAgent": e.UserAgent,
		"at":        e.At.UTC().Format(time.RFC3339Nano),
	}
}

// FromValues is the inverse of Values.
func FromValues(values map[string]interface{}) (Event, error) {
	str := func(k string) string {
		v, _ := values[k].(string)
		return v
	}
	e := Event{
		ID:        str("id"),
		Type:      EventType(str("type")),
		Email:     str("email"),
		SessionID: str("sessionId"),
		Reason:    str("reason"),
		IPAddress: str("ipAddress"),
		UserAgent: str("userAgent"),
	}
	if e.Type == "" {
		return Event{}, fmt.Errorf("audit event missing type")
	}
	if at := str("at"); at != "" {
		parsed, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return Event{}, fmt.Errorf("parse event time: %w", err)
		}
		e.At = parsed
	}
	return e, nil
}
