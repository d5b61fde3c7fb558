package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	domainerrors "phiguard/pkg/domain-errors"
)

// Store is the append-only persistence collaborator. Implementations must
// expose no update or delete path.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	QueryByPatient(ctx context.Context, patientID string, q Query) ([]Entry, error)
	QueryByUser(ctx context.Context, userID string, q Query) ([]Entry, error)
}

// Enqueuer accepts entries for asynchronous persistence. Only non-PHI
// entries may take this path; PHI-accessed entries are always written
// synchronously because the audit record is the compliance artifact of the
// access itself.
type Enqueuer interface {
	Enqueue(ctx context.Context, entry Entry) error
}

// Metrics is the instrumentation surface the logger reports to.
type Metrics interface {
	IncAuditWrites(eventType string, outcome string)
	IncAuditWriteFailures()
	ObserveAuditWriteDuration(seconds float64)
}

// Logger is the audit service. Writes for PHI-accessed entries are
// synchronous and fail-closed: a store failure propagates to the caller
// and is never silently discarded.
type Logger struct {
	store   Store
	async   Enqueuer
	logger  *slog.Logger
	metrics Metrics
	tracer  trace.Tracer
	clock   func() time.Time
}

// Option configures the Logger.
type Option func(*Logger)

// WithLogger sets a structured logger for failure diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Logger) { l.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m Metrics) Option {
	return func(l *Logger) { l.metrics = m }
}

// WithAsyncWriter routes non-PHI entries through an asynchronous writer.
func WithAsyncWriter(e Enqueuer) Option {
	return func(l *Logger) { l.async = e }
}

// WithClock sets the clock function for testability.
func WithClock(clock func() time.Time) Option {
	return func(l *Logger) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// New creates the audit logger over an append-only store.
func New(store Store, opts ...Option) (*Logger, error) {
	if store == nil {
		return nil, domainerrors.New(domainerrors.CodeInvalidInput, "audit store is required")
	}
	l := &Logger{
		store:  store,
		tracer: otel.Tracer("phiguard/audit"),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// LogAccess persists one audit entry. The entry's ID, event time, and
// retention horizon are assigned here; callers never reuse an entry after
// logging it. PHI-accessed entries block until the store confirms the
// write. Context cancellation yields an error without a partial row: the
// store write is a single INSERT.
func (l *Logger) LogAccess(ctx context.Context, entry Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}

	entry.ID = uuid.New()
	if entry.EventTime.IsZero() {
		entry.EventTime = l.clock().UTC()
	}
	entry.RetainUntil = entry.EventTime.AddDate(0, 0, RetentionDays)

	if !entry.PHIAccessed && l.async != nil {
		return l.async.Enqueue(ctx, entry)
	}
	return l.persist(ctx, entry)
}

func (l *Logger) persist(ctx context.Context, entry Entry) error {
	ctx, span := l.tracer.Start(ctx, "audit.append",
		trace.WithAttributes(
			attribute.String("audit.event_type", string(entry.EventType)),
			attribute.Bool("audit.phi_accessed", entry.PHIAccessed),
		))
	defer span.End()

	start := l.clock()
	if err := l.store.Append(ctx, entry); err != nil {
		if l.metrics != nil {
			l.metrics.IncAuditWriteFailures()
		}
		if l.logger != nil {
			l.logger.ErrorContext(ctx, "audit persistence failed",
				"event_type", entry.EventType,
				"request_id", entry.RequestID,
				"phi_accessed", entry.PHIAccessed,
				"error", err,
			)
		}
		return domainerrors.Wrap(err, domainerrors.CodeUnavailable, "audit persistence failed")
	}

	if l.metrics != nil {
		l.metrics.ObserveAuditWriteDuration(l.clock().Sub(start).Seconds())
		l.metrics.IncAuditWrites(string(entry.EventType), string(entry.Outcome))
	}
	return nil
}

// Compensate inserts a correction entry referencing the original entry's
// ID. The original is never touched; this is the only correction path.
func (l *Logger) Compensate(ctx context.Context, originalID uuid.UUID, entry Entry) error {
	if originalID == uuid.Nil {
		return domainerrors.New(domainerrors.CodeInvalidInput, "compensating entry requires the original entry id")
	}
	entry.EventType = EventCompensation
	entry.CompensatesID = &originalID
	return l.LogAccess(ctx, entry)
}

// QueryByPatient returns every entry involving a patient within the query
// window, regardless of which service wrote it. This backs the patient's
// right to an accounting of disclosures.
func (l *Logger) QueryByPatient(ctx context.Context, patientID string, q Query) ([]Entry, error) {
	if patientID == "" {
		return nil, domainerrors.New(domainerrors.CodeInvalidInput, "patient id is required")
	}
	entries, err := l.store.QueryByPatient(ctx, patientID, q)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeUnavailable, "audit query failed")
	}
	return entries, nil
}

// QueryByUser returns entries recording a given user's accesses, for
// workforce access reviews.
func (l *Logger) QueryByUser(ctx context.Context, userID string, q Query) ([]Entry, error) {
	if userID == "" {
		return nil, domainerrors.New(domainerrors.CodeInvalidInput, "user id is required")
	}
	entries, err := l.store.QueryByUser(ctx, userID, q)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeUnavailable, "audit query failed")
	}
	return entries, nil
}
