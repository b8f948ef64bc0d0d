package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"logingate/internal/models"
)

const insertSessionScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1],
  "id", ARGV[1],
  "email", ARGV[2],
  "role", ARGV[3],
  "remembered", ARGV[4],
  "created_at", ARGV[5],
  "last_activity_at", ARGV[6])
redis.call("PEXPIRE", KEYS[1], ARGV[7])
return 1
`

// Returns -1 for an unknown token, -2 after expiring it, otherwise the
// refreshed hash as a flat field/value list.
const touchSessionScript = `
local last = redis.call("HGET", KEYS[1], "last_activity_at")
if not last then
  return -1
end
if tonumber(ARGV[1]) - tonumber(last) >= tonumber(ARGV[2]) then
  redis.call("DEL", KEYS[1])
  return -2
end
redis.call("HSET", KEYS[1], "last_activity_at", ARGV[1])
redis.call("PEXPIRE", KEYS[1], ARGV[3])
return redis.call("HGETALL", KEYS[1])
`

var (
	insertSessionLua = redis.NewScript(insertSessionScript)
	touchSessionLua  = redis.NewScript(touchSessionScript)
)

// RedisSessionStore keeps each session in a hash. Keys carry a TTL equal to
// the retention window, so stale records age out without a sweep.
type RedisSessionStore struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
}

func NewRedisSessionStore(client redis.UniversalClient, retention time.Duration) *RedisSessionStore {
	return &RedisSessionStore{redis: client, prefix: "session:", retention: retention}
}

func (s *RedisSessionStore) key(token string) string {
	return s.prefix + token
}

func (s *RedisSessionStore) Insert(ctx context.Context, session models.Session) error {
	res, err := insertSessionLua.Run(ctx, s.redis, []string{s.key(session.Token)},
		session.ID,
		session.Email,
		string(session.Role),
		strconv.FormatBool(session.Remembered),
		session.CreatedAt.UnixMilli(),
		session.LastActivityAt.UnixMilli(),
		s.retention.Milliseconds(),
	).Int64()
	if err != nil {
		return fmt.Errorf("redis insert session: %w", err)
	}
	if res == 0 {
		return ErrSessionExists
	}
	return nil
}

func (s *RedisSessionStore) Get(ctx context.Context, token string) (models.Session, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(token)).Result()
	if err != nil {
		return models.Session{}, fmt.Errorf("redis get session: %w", err)
	}
	if len(fields) == 0 {
		return models.Session{}, ErrSessionNotFound
	}
	return decodeSession(token, fields)
}

func (s *RedisSessionStore) Touch(ctx context.Context, token string, now time.Time, idle time.Duration) (models.Session, error) {
	res, err := touchSessionLua.Run(ctx, s.redis, []string{s.key(token)},
		now.UnixMilli(),
		idle.Milliseconds(),
		s.retention.Milliseconds(),
	).Result()
	if err != nil {
		return models.Session{}, fmt.Errorf("redis touch session: %w", err)
	}

	switch v := res.(type) {
	case int64:
		if v == -2 {
			return models.Session{}, ErrSessionExpired
		}
		return models.Session{}, ErrSessionNotFound
	case []interface{}:
		fields := make(map[string]string, len(v)/2)
		for i := 0; i+1 < len(v); i += 2 {
			k, _ := v[i].(string)
			val, _ := v[i+1].(string)
			fields[k] = val
		}
		return decodeSession(token, fields)
	default:
		return models.Session{}, fmt.Errorf("redis touch session: unexpected reply %T", res)
	}
}

func (s *RedisSessionStore) Delete(ctx context.Context, token string) error {
	if err := s.redis.Del(ctx, s.key(token)).Err(); err != nil {
		return fmt.Errorf("redis delete session: %w", err)
	}
	return nil
}

// DeleteIdleBefore is a no-op: key TTLs already bound how long records live.
func (s *RedisSessionStore) DeleteIdleBefore(context.Context, time.Time) (int, error) {
	return 0, nil
}

var errCorruptSession = errors.New("corrupt session record")

func decodeSession(token string, fields map[string]string) (models.Session, error) {
	created, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return models.Session{}, fmt.Errorf("%w: created_at: %v", errCorruptSession, err)
	}
	last, err := strconv.ParseInt(fields["last_activity_at"], 10, 64)
	if err != nil {
		return models.Session{}, fmt.Errorf("%w: last_activity_at: %v", errCorruptSession, err)
	}
	remembered, _ := strconv.ParseBool(fields["remembered"])

	return models.Session{
		ID:             fields["id"],
		Token:          token,
		Email:          fields["email"],
		Role:           models.Role(fields["role"]),
		Remembered:     remembered,
		CreatedAt:      time.UnixMilli(created),
		LastActivityAt: time.UnixMilli(last),
	}, nil
}
