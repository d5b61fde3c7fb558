package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	domainerrors "phiguard/pkg/domain-errors"
	"phiguard/pkg/security"
)

type fakeStore struct {
	lastKey    string
	lastLimit  int
	lastWindow time.Duration
	result     *Result
	err        error
}

func (f *fakeStore) Allow(_ context.Context, key string, limit int, window time.Duration) (*Result, error) {
	f.lastKey = key
	f.lastLimit = limit
	f.lastWindow = window
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &Result{Allowed: true, Limit: limit, Remaining: limit - 1}, nil
}

type sinkRecorder struct {
	events []security.Event
}

func (r *sinkRecorder) LogEvent(_ context.Context, event security.Event) {
	r.events = append(r.events, event)
}

type LimiterSuite struct {
	suite.Suite
	ctx context.Context
}

func TestLimiterSuite(t *testing.T) {
	suite.Run(t, new(LimiterSuite))
}

func (s *LimiterSuite) SetupTest() {
	s.ctx = context.Background()
}

func (s *LimiterSuite) TestNew() {
	s.Run("requires a store", func() {
		_, err := New(nil, DefaultPresets())
		s.Require().Error(err)
	})

	s.Run("rejects non-positive preset limits and windows", func() {
		_, err := New(&fakeStore{}, []Preset{{Operation: "x", Limit: 0, Window: time.Minute}})
		s.Require().Error(err)

		_, err = New(&fakeStore{}, []Preset{{Operation: "x", Limit: 1, Window: 0}})
		s.Require().Error(err)
	})
}

func (s *LimiterSuite) TestConsume() {
	s.Run("applies the operation's preset", func() {
		store := &fakeStore{}
		limiter, err := New(store, DefaultPresets())
		s.Require().NoError(err)

		result, err := limiter.Consume(s.ctx, "phi.export", "svc-export")
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(10, store.lastLimit)
		s.Equal(time.Hour, store.lastWindow)
		s.Equal("rl:phi.export:svc-export", store.lastKey)
	})

	s.Run("unknown operations get the fallback preset", func() {
		store := &fakeStore{}
		limiter, err := New(store, DefaultPresets())
		s.Require().NoError(err)

		_, err = limiter.Consume(s.ctx, "unknown.op", "svc-1")
		s.Require().NoError(err)
		s.Equal(100, store.lastLimit)
		s.Equal(time.Minute, store.lastWindow)
	})

	s.Run("sanitizes delimiter characters in key segments", func() {
		store := &fakeStore{}
		limiter, err := New(store, DefaultPresets())
		s.Require().NoError(err)

		_, err = limiter.Consume(s.ctx, "phi.export", "svc:with:colons")
		s.Require().NoError(err)
		s.Equal("rl:phi.export:svc_with_colons", store.lastKey)
	})

	s.Run("a denied result is not an error and raises a security event", func() {
		store := &fakeStore{result: &Result{Allowed: false, Limit: 10, RetryAfter: 30}}
		sink := &sinkRecorder{}
		limiter, err := New(store, DefaultPresets(), WithEventSink(sink))
		s.Require().NoError(err)

		result, err := limiter.Consume(s.ctx, "phi.export", "svc-export")
		s.Require().NoError(err)
		s.False(result.Allowed)

		s.Require().Len(sink.events, 1)
		s.Equal(security.EventRateLimitExceeded, sink.events[0].Type)
		s.Equal(security.SeverityLow, sink.events[0].Severity)
		s.Equal("svc-export", sink.events[0].UserID)
	})

	s.Run("allowed results raise no security event", func() {
		sink := &sinkRecorder{}
		limiter, err := New(&fakeStore{}, DefaultPresets(), WithEventSink(sink))
		s.Require().NoError(err)

		_, err = limiter.Consume(s.ctx, "phi.export", "svc-export")
		s.Require().NoError(err)
		s.Empty(sink.events)
	})

	s.Run("store failure surfaces as unavailable", func() {
		limiter, err := New(&fakeStore{err: errors.New("redis down")}, DefaultPresets())
		s.Require().NoError(err)

		_, err = limiter.Consume(s.ctx, "phi.export", "svc-export")
		s.Require().Error(err)
		s.Equal(domainerrors.CodeUnavailable, domainerrors.CodeOf(err))
	})

	s.Run("requires operation and principal", func() {
		limiter, err := New(&fakeStore{}, DefaultPresets())
		s.Require().NoError(err)

		_, err = limiter.Consume(s.ctx, "", "svc-1")
		s.Require().Error(err)

		_, err = limiter.Consume(s.ctx, "phi.export", "")
		s.Require().Error(err)
	})
}
