// Package counter provides the shared increment-with-TTL primitive used by
// brute-force detection. The Redis implementation is atomic across service
// instances; the in-memory one serves single-process tests.
package counter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore counts events in Redis. INCR is atomic store-side, so two
// instances racing on the same key cannot both observe the same count.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed counter store. The prefix
// namespaces keys so counters from different detectors cannot collide.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// Increment atomically increments the counter and returns the new count.
// The TTL is set when the counter is created, so the window runs from the
// first event; later increments never extend it.
func (s *RedisStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	fullKey := s.prefix + key

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, fullKey)
	pipe.ExpireNX(ctx, fullKey, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("increment counter %q: %w", key, err)
	}
	return incr.Val(), nil
}
