// Package redis implements the rate limit store over a shared Redis,
// giving fixed-window counting that holds across service instances.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"phiguard/pkg/ratelimit"
)

// Store counts requests per key in fixed windows. INCR is atomic
// store-side, so two instances racing cannot both claim the last unit of
// budget.
type Store struct {
	client *redis.Client
	clock  func() time.Time
}

// Option configures the Store.
type Option func(*Store)

// WithClock sets the clock function for testability.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New creates a Redis-backed rate limit store.
func New(client *redis.Client, opts ...Option) *Store {
	s := &Store{client: client, clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Allow increments the window counter and checks it against the limit in
// one round trip. The window TTL is set when the counter is created and
// never extended, so the window runs from the first request.
func (s *Store) Allow(ctx context.Context, key string, limit int, window time.Duration) (*ratelimit.Result, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	ttl := pipe.TTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("rate limit increment %q: %w", key, err)
	}

	count := incr.Val()
	resetAt := s.clock().Add(ttl.Val())

	if count > int64(limit) {
		retryAfter := int(ttl.Val().Seconds())
		if retryAfter < 0 {
			retryAfter = 0
		}
		return &ratelimit.Result{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: retryAfter,
		}, nil
	}

	return &ratelimit.Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - int(count),
		ResetAt:   resetAt,
	}, nil
}
