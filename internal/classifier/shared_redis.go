package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"alertrelay/internal/domain"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "alertrelay:classification:"

// RedisCache stores classifications in Redis with per-key expiry.
type RedisCache struct {
	client redis.Cmdable
}

// NewRedisCache wraps a Redis client.
func NewRedisCache(client redis.Cmdable) *RedisCache {
	return &RedisCache{client: client}
}

// Get reads one classification.
// Params: ctx and fingerprint key.
// Returns: value, hit flag, or Redis/decode error.
func (c *RedisCache) Get(ctx context.Context, fingerprint string) (domain.Classification, bool, error) {
	body, err := c.client.Get(ctx, redisKeyPrefix+fingerprint).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Classification{}, false, nil
		}
		return domain.Classification{}, false, fmt.Errorf("redis get: %w", err)
	}
	var value domain.Classification
	if err := json.Unmarshal(body, &value); err != nil {
		return domain.Classification{}, false, fmt.Errorf("decode classification: %w", err)
	}
	return value, true, nil
}

// Set writes one classification with expiry ttl.
func (c *RedisCache) Set(ctx context.Context, fingerprint string, value domain.Classification, ttl time.Duration) error {
	body, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode classification: %w", err)
	}
	if err := c.client.Set(ctx, redisKeyPrefix+fingerprint, body, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
