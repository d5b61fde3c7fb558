package security

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	domainerrors "phiguard/pkg/domain-errors"
)

// Brute-force and frequency thresholds. The brute-force counter keeps
// accumulating until its TTL expires, so the CRITICAL alert fires exactly
// once, on the crossing from 9 to 10: a 20th failure does not re-alert.
const (
	BruteForceThreshold = 10
	BruteForceWindow    = 15 * time.Minute
	HighFrequencyLimit  = 100
	AccessPatternWindow = time.Hour
	bruteForceKeyPrefix = "bf:ip:"
)

// CounterStore is the shared increment-with-TTL collaborator (Redis-shaped).
type CounterStore interface {
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Publisher fans events out to a SIEM pipeline. Emission must not block:
// implementations buffer and drop-oldest rather than stall callers.
type Publisher interface {
	Emit(event Event)
}

// AlertFunc is invoked for HIGH and CRITICAL events.
type AlertFunc func(ctx context.Context, event Event)

// Metrics is the instrumentation surface the event logger reports to.
type Metrics interface {
	IncSecurityEvent(eventType string, severity string)
	IncAlerts(severity string)
}

// EventLogger is the security event intake. Every event produces a
// structured log line and a metric; HIGH and CRITICAL events additionally
// invoke at most one alert callback (CRITICAL takes precedence). Detection
// here is advisory: failures in the counter store degrade monitoring but
// never block the caller's business operation.
type EventLogger struct {
	counters CounterStore
	tracker  *PatternTracker
	logger   *slog.Logger
	metrics  Metrics
	pub      Publisher

	onCritical AlertFunc
	onHigh     AlertFunc
	clock      func() time.Time
}

// Option configures the EventLogger.
type Option func(*EventLogger)

// WithLogger sets the structured logger. Required for event intake to be
// observable; defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(l *EventLogger) { l.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m Metrics) Option {
	return func(l *EventLogger) { l.metrics = m }
}

// WithPublisher sets the SIEM fan-out publisher.
func WithPublisher(p Publisher) Option {
	return func(l *EventLogger) { l.pub = p }
}

// WithCriticalAlert sets the callback for CRITICAL events.
func WithCriticalAlert(fn AlertFunc) Option {
	return func(l *EventLogger) { l.onCritical = fn }
}

// WithHighAlert sets the callback for HIGH events.
func WithHighAlert(fn AlertFunc) Option {
	return func(l *EventLogger) { l.onHigh = fn }
}

// WithClock sets the clock function for testability.
func WithClock(clock func() time.Time) Option {
	return func(l *EventLogger) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// NewEventLogger creates the security event intake over a shared counter
// store.
func NewEventLogger(counters CounterStore, opts ...Option) (*EventLogger, error) {
	if counters == nil {
		return nil, domainerrors.New(domainerrors.CodeInvalidInput, "counter store is required")
	}
	l := &EventLogger{
		counters: counters,
		tracker:  NewPatternTracker(AccessPatternWindow),
		logger:   slog.Default(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// LogEvent records one security event: structured log line, metrics, SIEM
// fan-out, and severity-routed alerting. At most one of the CRITICAL or
// HIGH callbacks runs per event; CRITICAL takes precedence.
func (l *EventLogger) LogEvent(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = l.clock().UTC()
	}

	l.logger.InfoContext(ctx, "security event",
		"event_type", event.Type,
		"severity", event.Severity,
		"user_id", event.UserID,
		"ip", event.IPAddress,
		"resource", event.Resource,
	)

	if l.metrics != nil {
		l.metrics.IncSecurityEvent(string(event.Type), string(event.Severity))
	}
	if l.pub != nil {
		l.pub.Emit(event)
	}

	switch event.Severity {
	case SeverityCritical:
		if l.onCritical != nil {
			l.onCritical(ctx, event)
		}
		if l.metrics != nil {
			l.metrics.IncAlerts(string(SeverityCritical))
		}
	case SeverityHigh:
		if l.onHigh != nil {
			l.onHigh(ctx, event)
		}
		if l.metrics != nil {
			l.metrics.IncAlerts(string(SeverityHigh))
		}
	}
}

// LogAuthFailure records an authentication failure and increments the
// per-IP counter with a 15-minute TTL. Reaching 10 failures within the
// window emits a synthetic CRITICAL BRUTE_FORCE_DETECTED event exactly
// once per crossing. Counter store failures are logged and swallowed:
// anomaly detection is advisory.
func (l *EventLogger) LogAuthFailure(ctx context.Context, userID, ip, reason string) {
	l.LogEvent(ctx, Event{
		Type:      EventAuthFailure,
		Severity:  SeverityMedium,
		UserID:    userID,
		IPAddress: ip,
		Details:   map[string]string{"reason": reason},
	})

	if ip == "" {
		return
	}
	count, err := l.counters.Increment(ctx, bruteForceKeyPrefix+ip, BruteForceWindow)
	if err != nil {
		l.logger.WarnContext(ctx, "brute force counter unavailable",
			"ip", ip,
			"error", err,
		)
		return
	}
	if count == BruteForceThreshold {
		l.LogEvent(ctx, Event{
			Type:      EventBruteForceDetected,
			Severity:  SeverityCritical,
			UserID:    userID,
			IPAddress: ip,
			Details:   map[string]string{"failures": strconv.FormatInt(count, 10)},
		})
	}
}

// TrackAccessPattern records one PHI access for the user against a
// trailing 1-hour window. Exceeding 100 accesses in the window emits a
// MEDIUM HIGH_FREQUENCY_ACCESS event on the crossing. The detector is
// soft: false positives are acceptable.
func (l *EventLogger) TrackAccessPattern(ctx context.Context, userID string) {
	if userID == "" {
		return
	}
	count := l.tracker.Record(userID)
	if count == HighFrequencyLimit+1 {
		l.LogEvent(ctx, Event{
			Type:     EventHighFrequencyAccess,
			Severity: SeverityMedium,
			UserID:   userID,
			Details:  map[string]string{"accesses_last_hour": strconv.Itoa(count)},
		})
	}
}
