//go:build integration

package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	rlredis "phiguard/pkg/ratelimit/store/redis"
	"phiguard/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	ctx   context.Context
	redis *containers.RedisContainer
	store *rlredis.Store
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.ctx = context.Background()
	s.redis = containers.NewRedisContainer(s.T())
	s.store = rlredis.New(s.redis.Client)
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(s.ctx))
}

func (s *RedisStoreSuite) TestAllow() {
	const limit = 3

	s.Run("allows up to the limit, then denies", func() {
		for i := 0; i < limit; i++ {
			result, err := s.store.Allow(s.ctx, "rl:op:a", limit, time.Minute)
			s.Require().NoError(err)
			s.True(result.Allowed)
			s.Equal(limit-i-1, result.Remaining)
		}

		result, err := s.store.Allow(s.ctx, "rl:op:a", limit, time.Minute)
		s.Require().NoError(err)
		s.False(result.Allowed)
		s.Equal(0, result.Remaining)
		s.GreaterOrEqual(result.RetryAfter, 1)
		s.LessOrEqual(result.RetryAfter, 60)
	})

	s.Run("keys are independent", func() {
		for i := 0; i < limit; i++ {
			_, err := s.store.Allow(s.ctx, "rl:op:b", limit, time.Minute)
			s.Require().NoError(err)
		}

		result, err := s.store.Allow(s.ctx, "rl:op:c", limit, time.Minute)
		s.Require().NoError(err)
		s.True(result.Allowed)
	})

	s.Run("window expires and budget refills", func() {
		for i := 0; i < limit+1; i++ {
			_, err := s.store.Allow(s.ctx, "rl:op:exp", limit, time.Second)
			s.Require().NoError(err)
		}

		time.Sleep(1100 * time.Millisecond)

		result, err := s.store.Allow(s.ctx, "rl:op:exp", limit, time.Second)
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(limit-1, result.Remaining)
	})
}
