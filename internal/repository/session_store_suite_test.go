package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logingate/internal/models"
)

const testIdle = 5 * time.Minute

func newRedisSessionStore(t *testing.T) *RedisSessionStore {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisSessionStore(rdb, 24*time.Hour)
}

func sessionStores(t *testing.T) map[string]SessionStore {
	return map[string]SessionStore{
		"memory": NewMemorySessionStore(),
		"redis":  newRedisSessionStore(t),
	}
}

func sampleSession(token string, at time.Time) models.Session {
	return models.Session{
		ID:             "id-" + token,
		Token:          token,
		Email:          "admin@example.com",
		Role:           models.RoleAdmin,
		CreatedAt:      at,
		LastActivityAt: at,
	}
}

func TestSessionStores(t *testing.T) {
	for name, store := range sessionStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.UnixMilli(time.Now().UnixMilli())

			t.Run("insert and get", func(t *testing.T) {
				require.NoError(t, store.Insert(ctx, sampleSession("tok-a", base)))
				got, err := store.Get(ctx, "tok-a")
				require.NoError(t, err)
				assert.Equal(t, "admin@example.com", got.Email)
				assert.Equal(t, models.RoleAdmin, got.Role)
				assert.True(t, got.LastActivityAt.Equal(base))
			})

			t.Run("duplicate insert rejected", func(t *testing.T) {
				err := store.Insert(ctx, sampleSession("tok-a", base))
				require.ErrorIs(t, err, ErrSessionExists)
			})

			t.Run("touch inside window refreshes", func(t *testing.T) {
				later := base.Add(4 * time.Minute)
				got, err := store.Touch(ctx, "tok-a", later, testIdle)
				require.NoError(t, err)
				assert.True(t, got.LastActivityAt.Equal(later))

				// the window restarts from the refreshed activity time
				got, err = store.Touch(ctx, "tok-a", later.Add(4*time.Minute), testIdle)
				require.NoError(t, err)
				assert.True(t, got.LastActivityAt.Equal(later.Add(4*time.Minute)))
			})

			t.Run("touch at exactly the idle window expires", func(t *testing.T) {
				require.NoError(t, store.Insert(ctx, sampleSession("tok-b", base)))
				_, err := store.Touch(ctx, "tok-b", base.Add(testIdle), testIdle)
				require.ErrorIs(t, err, ErrSessionExpired)

				_, err = store.Get(ctx, "tok-b")
				require.ErrorIs(t, err, ErrSessionNotFound)
				_, err = store.Touch(ctx, "tok-b", base.Add(testIdle), testIdle)
				require.ErrorIs(t, err, ErrSessionNotFound)
			})

			t.Run("touch unknown token", func(t *testing.T) {
				_, err := store.Touch(ctx, "nope", base, testIdle)
				require.ErrorIs(t, err, ErrSessionNotFound)
			})

			t.Run("delete is idempotent", func(t *testing.T) {
				require.NoError(t, store.Insert(ctx, sampleSession("tok-c", base)))
				require.NoError(t, store.Delete(ctx, "tok-c"))
				require.NoError(t, store.Delete(ctx, "tok-c"))
				_, err := store.Get(ctx, "tok-c")
				require.ErrorIs(t, err, ErrSessionNotFound)
			})
		})
	}
}

func TestMemorySessionStoreSweep(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySessionStore()
	now := time.Now()

	require.NoError(t, store.Insert(ctx, sampleSession("old", now.Add(-2*time.Hour))))
	require.NoError(t, store.Insert(ctx, sampleSession("new", now)))

	n, err := store.DeleteIdleBefore(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.Get(ctx, "old")
	require.ErrorIs(t, err, ErrSessionNotFound)
	_, err = store.Get(ctx, "new")
	require.NoError(t, err)
}

func TestRedisSessionStoreAppliesRetentionTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	store := NewRedisSessionStore(rdb, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, sampleSession("tok", time.Now())))
	assert.Equal(t, time.Hour, mr.TTL("session:tok"))

	mr.FastForward(2 * time.Hour)
	_, err := store.Get(ctx, "tok")
	require.ErrorIs(t, err, ErrSessionNotFound)
}
