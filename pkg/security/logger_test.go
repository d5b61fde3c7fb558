package security

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"phiguard/pkg/security/counter"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) Emit(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) ofType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type failingCounter struct{}

func (failingCounter) Increment(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("counter unavailable")
}

type EventLoggerSuite struct {
	suite.Suite
	ctx      context.Context
	recorder *eventRecorder
	logger   *EventLogger
}

func TestEventLoggerSuite(t *testing.T) {
	suite.Run(t, new(EventLoggerSuite))
}

func (s *EventLoggerSuite) SetupTest() {
	s.ctx = context.Background()
	s.recorder = &eventRecorder{}

	var err error
	s.logger, err = NewEventLogger(counter.NewMemoryStore(), WithPublisher(s.recorder))
	s.Require().NoError(err)
}

func (s *EventLoggerSuite) TestNewEventLogger() {
	_, err := NewEventLogger(nil)
	s.Require().Error(err)
}

func (s *EventLoggerSuite) TestLogEvent() {
	s.Run("publishes every event with a timestamp", func() {
		s.logger.LogEvent(s.ctx, Event{Type: EventPHIAccessDenied, Severity: SeverityMedium, UserID: "usr-1"})

		events := s.recorder.ofType(EventPHIAccessDenied)
		s.Require().Len(events, 1)
		s.False(events[0].Timestamp.IsZero())
	})

	s.Run("critical events invoke only the critical callback", func() {
		var criticals, highs int
		logger, err := NewEventLogger(counter.NewMemoryStore(),
			WithCriticalAlert(func(context.Context, Event) { criticals++ }),
			WithHighAlert(func(context.Context, Event) { highs++ }),
		)
		s.Require().NoError(err)

		logger.LogEvent(s.ctx, Event{Type: EventBruteForceDetected, Severity: SeverityCritical})
		s.Equal(1, criticals)
		s.Equal(0, highs)
	})

	s.Run("high events invoke only the high callback", func() {
		var criticals, highs int
		logger, err := NewEventLogger(counter.NewMemoryStore(),
			WithCriticalAlert(func(context.Context, Event) { criticals++ }),
			WithHighAlert(func(context.Context, Event) { highs++ }),
		)
		s.Require().NoError(err)

		logger.LogEvent(s.ctx, Event{Type: EventRateLimitExceeded, Severity: SeverityHigh})
		s.Equal(0, criticals)
		s.Equal(1, highs)
	})

	s.Run("low and medium events invoke no callback", func() {
		var alerts int
		logger, err := NewEventLogger(counter.NewMemoryStore(),
			WithCriticalAlert(func(context.Context, Event) { alerts++ }),
			WithHighAlert(func(context.Context, Event) { alerts++ }),
		)
		s.Require().NoError(err)

		logger.LogEvent(s.ctx, Event{Type: EventAuthFailure, Severity: SeverityMedium})
		logger.LogEvent(s.ctx, Event{Type: EventRateLimitExceeded, Severity: SeverityLow})
		s.Equal(0, alerts)
	})
}

func (s *EventLoggerSuite) TestLogAuthFailure() {
	s.Run("ten failures from one IP trigger exactly one brute force alert", func() {
		var criticals []Event
		recorder := &eventRecorder{}
		logger, err := NewEventLogger(counter.NewMemoryStore(),
			WithPublisher(recorder),
			WithCriticalAlert(func(_ context.Context, e Event) { criticals = append(criticals, e) }),
		)
		s.Require().NoError(err)

		for i := 0; i < BruteForceThreshold-1; i++ {
			logger.LogAuthFailure(s.ctx, "usr-1", "10.0.0.1", "bad password")
		}
		s.Empty(recorder.ofType(EventBruteForceDetected), "no alert before the threshold")

		logger.LogAuthFailure(s.ctx, "usr-1", "10.0.0.1", "bad password")

		detected := recorder.ofType(EventBruteForceDetected)
		s.Require().Len(detected, 1)
		s.Equal(SeverityCritical, detected[0].Severity)
		s.Equal("10.0.0.1", detected[0].IPAddress)
		s.Require().Len(criticals, 1)

		// Further failures within the window do not re-alert.
		for i := 0; i < 10; i++ {
			logger.LogAuthFailure(s.ctx, "usr-1", "10.0.0.1", "bad password")
		}
		s.Len(recorder.ofType(EventBruteForceDetected), 1)
	})

	s.Run("counters are tracked per IP", func() {
		recorder := &eventRecorder{}
		logger, err := NewEventLogger(counter.NewMemoryStore(), WithPublisher(recorder))
		s.Require().NoError(err)

		for i := 0; i < BruteForceThreshold-1; i++ {
			logger.LogAuthFailure(s.ctx, "usr-1", "10.0.0.1", "bad password")
			logger.LogAuthFailure(s.ctx, "usr-1", "10.0.0.2", "bad password")
		}
		s.Empty(recorder.ofType(EventBruteForceDetected))
	})

	s.Run("window expiry resets the count", func() {
		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		store := counter.NewMemoryStore().WithClock(func() time.Time { return now })

		recorder := &eventRecorder{}
		logger, err := NewEventLogger(store, WithPublisher(recorder))
		s.Require().NoError(err)

		for i := 0; i < BruteForceThreshold-1; i++ {
			logger.LogAuthFailure(s.ctx, "usr-1", "10.0.0.1", "bad password")
		}

		now = now.Add(BruteForceWindow + time.Second)
		logger.LogAuthFailure(s.ctx, "usr-1", "10.0.0.1", "bad password")
		s.Empty(recorder.ofType(EventBruteForceDetected))
	})

	s.Run("counter store failure never blocks the caller", func() {
		recorder := &eventRecorder{}
		logger, err := NewEventLogger(failingCounter{}, WithPublisher(recorder))
		s.Require().NoError(err)

		logger.LogAuthFailure(s.ctx, "usr-1", "10.0.0.1", "bad password")
		s.Len(recorder.ofType(EventAuthFailure), 1)
		s.Empty(recorder.ofType(EventBruteForceDetected))
	})

	s.Run("failures without an IP are logged but not counted", func() {
		recorder := &eventRecorder{}
		logger, err := NewEventLogger(counter.NewMemoryStore(), WithPublisher(recorder))
		s.Require().NoError(err)

		for i := 0; i < BruteForceThreshold+1; i++ {
			logger.LogAuthFailure(s.ctx, "usr-1", "", "bad password")
		}
		s.Empty(recorder.ofType(EventBruteForceDetected))
	})
}

func (s *EventLoggerSuite) trackLogger() (*EventLogger, *eventRecorder) {
	s.T().Helper()
	recorder := &eventRecorder{}
	logger, err := NewEventLogger(counter.NewMemoryStore(), WithPublisher(recorder))
	s.Require().NoError(err)
	return logger, recorder
}

func (s *EventLoggerSuite) TestTrackAccessPattern() {
	s.Run("101st access in the window emits one high frequency event", func() {
		logger, recorder := s.trackLogger()

		for i := 0; i < HighFrequencyLimit; i++ {
			logger.TrackAccessPattern(s.ctx, "usr-1")
		}
		s.Empty(recorder.ofType(EventHighFrequencyAccess), "no event at exactly the limit")

		logger.TrackAccessPattern(s.ctx, "usr-1")

		events := recorder.ofType(EventHighFrequencyAccess)
		s.Require().Len(events, 1)
		s.Equal(SeverityMedium, events[0].Severity)
		s.Equal("usr-1", events[0].UserID)

		// Continued access does not re-emit.
		for i := 0; i < 20; i++ {
			logger.TrackAccessPattern(s.ctx, "usr-1")
		}
		s.Len(recorder.ofType(EventHighFrequencyAccess), 1)
	})

	s.Run("99 accesses emit nothing", func() {
		logger, recorder := s.trackLogger()
		for i := 0; i < 99; i++ {
			logger.TrackAccessPattern(s.ctx, "usr-2")
		}
		s.Empty(recorder.ofType(EventHighFrequencyAccess))
	})

	s.Run("tracking is per user", func() {
		logger, recorder := s.trackLogger()
		for i := 0; i < HighFrequencyLimit; i++ {
			logger.TrackAccessPattern(s.ctx, "usr-3")
			logger.TrackAccessPattern(s.ctx, "usr-4")
		}
		s.Empty(recorder.ofType(EventHighFrequencyAccess))
	})

	s.Run("empty user id is ignored", func() {
		logger, recorder := s.trackLogger()
		for i := 0; i < HighFrequencyLimit+1; i++ {
			logger.TrackAccessPattern(s.ctx, "")
		}
		s.Empty(recorder.ofType(EventHighFrequencyAccess))
	})
}
