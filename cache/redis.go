package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/use-agent/pluck/models"
)

const redisKeyPrefix = "pluck:cache:"

// Redis stores result sets as JSON with a server-side expiry.
type Redis struct {
	client redis.UniversalClient
}

// NewRedis wraps an existing client.
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Get(ctx context.Context, key string) (models.ResultSet, bool, error) {
	raw, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	var entries []models.ResultEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, false, fmt.Errorf("cache decode: %w", err)
	}
	return models.ResultSet(entries), true, nil
}

func (r *Redis) Set(ctx context.Context, key string, rs models.ResultSet, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	// Encode the plain entries; ResultSet's own JSON form is the API shape.
	raw, err := json.Marshal([]models.ResultEntry(rs))
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	if err := r.client.Set(ctx, redisKeyPrefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}
