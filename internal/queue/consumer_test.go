package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu   sync.Mutex
	seen []string
	fail bool
}

func (h *recordingHandler) Handle(_ context.Context, msg redis.XMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fail {
		return errors.New("archive unavailable")
	}
	h.seen = append(h.seen, msg.Values["type"].(string))
	return nil
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.seen)
}

func newTestConsumer(t *testing.T, handler MessageHandler) (*Consumer, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	c := NewConsumer(client, "auth:events", "audit-archivers", "worker-1", time.Hour, zerolog.Nop(), handler)
	c.block = 20 * time.Millisecond
	return c, client
}

func TestConsumerHandlesAndAcks(t *testing.T) {
	handler := &recordingHandler{}
	c, client := newTestConsumer(t, handler)
	ctx := context.Background()

	require.NoError(t, c.EnsureGroup(ctx))
	require.NoError(t, c.EnsureGroup(ctx))

	for _, typ := range []string{"login_succeeded", "logout"} {
		require.NoError(t, client.XAdd(ctx, &redis.XAddArgs{Stream: "auth:events", Values: map[string]interface{}{"type": typ}}).Err())
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- c.Start(runCtx) }()

	require.Eventually(t, func() bool { return handler.count() == 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	pending, err := client.XPending(ctx, "auth:events", "audit-archivers").Result()
	require.NoError(t, err)
	require.Zero(t, pending.Count)
}

func TestConsumerLeavesFailedMessagesPending(t *testing.T) {
	handler := &recordingHandler{fail: true}
	c, client := newTestConsumer(t, handler)
	ctx := context.Background()

	require.NoError(t, c.EnsureGroup(ctx))
	require.NoError(t, client.XAdd(ctx, &redis.XAddArgs{Stream: "auth:events", Values: map[string]interface{}{"type": "logout"}}).Err())

	require.NoError(t, c.read(ctx))

	pending, err := client.XPending(ctx, "auth:events", "audit-archivers").Result()
	require.NoError(t, err)
	require.EqualValues(t, 1, pending.Count)

	// Once the handler recovers the claim pass picks the message up again.
	handler.mu.Lock()
	handler.fail = false
	handler.mu.Unlock()
	c.claimInterval = 0
	require.NoError(t, c.claimStalled(ctx))
	require.Equal(t, 1, handler.count())

	pending, err = client.XPending(ctx, "auth:events", "audit-archivers").Result()
	require.NoError(t, err)
	require.Zero(t, pending.Count)
}
