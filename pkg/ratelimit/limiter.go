package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	domainerrors "phiguard/pkg/domain-errors"
	"phiguard/pkg/security"
)

// Store checks and increments a counter atomically. Implementations must
// use store-side atomic increment-and-check, not read-then-write, so
// concurrent instances cannot over-admit by more than one unit.
type Store interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)
}

// EventSink receives RATE_LIMIT_EXCEEDED security events.
type EventSink interface {
	LogEvent(ctx context.Context, event security.Event)
}

// Metrics is the instrumentation surface the limiter reports to.
type Metrics interface {
	IncRateLimitDecision(operation string, allowed bool)
}

// Limiter enforces per-(operation, principal) limits from configured
// presets. Exceeding a limit is a soft signal: Consume returns a
// disallowed Result, not an error, and callers back off.
type Limiter struct {
	store    Store
	presets  map[string]Preset
	fallback Preset
	logger   *slog.Logger
	metrics  Metrics
	events   EventSink
	tracer   trace.Tracer
}

// Option configures the Limiter.
type Option func(*Limiter)

// WithLogger sets a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m Metrics) Option {
	return func(l *Limiter) { l.metrics = m }
}

// WithEventSink routes limit violations to the security event logger.
func WithEventSink(sink EventSink) Option {
	return func(l *Limiter) { l.events = sink }
}

// WithFallbackPreset sets the limit applied to operations that have no
// preset. Defaults to 100 per minute.
func WithFallbackPreset(p Preset) Option {
	return func(l *Limiter) { l.fallback = p }
}

// New creates a limiter from a store and presets.
func New(store Store, presets []Preset, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, domainerrors.New(domainerrors.CodeInvalidInput, "rate limit store is required")
	}
	l := &Limiter{
		store:    store,
		presets:  make(map[string]Preset, len(presets)),
		fallback: Preset{Limit: 100, Window: time.Minute},
		tracer:   otel.Tracer("phiguard/ratelimit"),
	}
	for _, p := range presets {
		if p.Limit <= 0 || p.Window <= 0 {
			return nil, domainerrors.New(domainerrors.CodeInvalidInput,
				"rate limit preset requires a positive limit and window: "+p.Operation)
		}
		l.presets[p.Operation] = p
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Consume spends one unit of the principal's budget for the operation.
// The returned Result reports whether the call may proceed and how much
// budget remains. Store failures surface as errors; callers choose whether
// to fail open or closed.
func (l *Limiter) Consume(ctx context.Context, operation, principal string) (*Result, error) {
	if operation == "" || principal == "" {
		return nil, domainerrors.New(domainerrors.CodeInvalidInput, "operation and principal are required")
	}

	ctx, span := l.tracer.Start(ctx, "ratelimit.consume",
		trace.WithAttributes(attribute.String("ratelimit.operation", operation)))
	defer span.End()

	preset, ok := l.presets[operation]
	if !ok {
		preset = l.fallback
	}

	key := "rl:" + SanitizeKeySegment(operation) + ":" + SanitizeKeySegment(principal)
	result, err := l.store.Allow(ctx, key, preset.Limit, preset.Window)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeUnavailable, "rate limit check failed")
	}

	if l.metrics != nil {
		l.metrics.IncRateLimitDecision(operation, result.Allowed)
	}
	if !result.Allowed {
		if l.logger != nil {
			l.logger.InfoContext(ctx, "rate limit exceeded",
				"operation", operation,
				"principal", principal,
				"limit", result.Limit,
			)
		}
		if l.events != nil {
			l.events.LogEvent(ctx, security.Event{
				Type:     security.EventRateLimitExceeded,
				Severity: security.SeverityLow,
				UserID:   principal,
				Resource: operation,
			})
		}
	}
	return result, nil
}
