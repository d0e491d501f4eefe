package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps session envelopes in Redis, keyed by session ID. Envelope
// expiry maps to Redis key expiry so stale sessions disappear on their own.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed session store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "authchain:session:",
	}
}

func (s *RedisStore) key(sid string) string {
	return s.prefix + sid
}

// ForSession returns the per-request Store view for one session ID.
func (s *RedisStore) ForSession(sid string) Store {
	return &redisSession{store: s, sid: sid}
}

type redisSession struct {
	store *RedisStore
	sid   string
}

func (r *redisSession) Get(ctx context.Context) (*Envelope, error) {
	val, err := r.store.client.Get(ctx, r.store.key(r.sid)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get session: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal([]byte(val), &env); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}

	return &env, nil
}

func (r *redisSession) Set(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(&env)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	var ttl time.Duration
	if !env.Expires.IsZero() {
		ttl = time.Until(env.Expires)
		if ttl <= 0 {
			// Already expired; storing it would only hand back a dead
			// session on the next read.
			return r.Clear(ctx)
		}
	}

	if err := r.store.client.Set(ctx, r.store.key(r.sid), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set session: %w", err)
	}

	return nil
}

func (r *redisSession) Clear(ctx context.Context) error {
	if err := r.store.client.Del(ctx, r.store.key(r.sid)).Err(); err != nil {
		return fmt.Errorf("redis delete session: %w", err)
	}

	return nil
}
