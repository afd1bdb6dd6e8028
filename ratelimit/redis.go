package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Store shared across processes through Redis.
type RedisStore struct {
	client redis.UniversalClient
	now    func() time.Time
}

// NewRedisStore wraps an existing client. The caller owns the client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

// IncrementAndCheck implements Store. INCR and EXPIREAT run in one
// transaction so a counter never outlives its window.
func (s *RedisStore) IncrementAndCheck(ctx context.Context, rule, scope string, limit int, window time.Duration) (Result, error) {
	start, end := windowBounds(s.now(), window)
	key := Key(rule, scope, start)

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireAt(ctx, key, end)

	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("ratelimit: increment %s: %w", key, err)
	}
	return newResult(incr.Val(), limit, start, end), nil
}
