package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore backs the limiter with a shared Redis counter so independent
// instances agree on one window per key.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "ratelimit"}
}

func (s *RedisStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	now := time.Now()
	start := now.Truncate(window)
	resetAt := start.Add(window)

	// Window identity is part of the key, so an elapsed window naturally
	// starts a fresh counter; the TTL only reclaims memory.
	windowKey := fmt.Sprintf("%s:%s:%d", s.prefix, key, start.Unix())

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, windowKey)
	pipe.ExpireNX(ctx, windowKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, time.Time{}, err
	}
	return incr.Val(), resetAt, nil
}
