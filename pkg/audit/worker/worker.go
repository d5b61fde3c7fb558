// Package worker persists non-PHI audit entries asynchronously. The inbox
// is bounded, so a slow audit store back-pressures enqueuers instead of
// dropping records.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"phiguard/pkg/audit"
)

// Writer consumes audit entries from a bounded channel and persists them
// with bounded retry. PHI-accessed entries never take this path; the audit
// logger writes those synchronously.
type Writer struct {
	store      audit.Store
	inbox      chan audit.Entry
	logger     *slog.Logger
	maxRetries int
	backoff    time.Duration
}

// Option configures the Writer.
type Option func(*Writer)

// WithLogger sets a structured logger for retry diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Writer) { w.logger = logger }
}

// WithRetry sets the per-entry retry budget and base backoff.
func WithRetry(maxRetries int, backoff time.Duration) Option {
	return func(w *Writer) {
		w.maxRetries = maxRetries
		w.backoff = backoff
	}
}

// New creates a writer with a bounded inbox of the given capacity.
func New(store audit.Store, capacity int, opts ...Option) (*Writer, error) {
	if store == nil {
		return nil, errors.New("audit store is required")
	}
	if capacity <= 0 {
		capacity = 1024
	}
	w := &Writer{
		store:      store,
		inbox:      make(chan audit.Entry, capacity),
		maxRetries: 3,
		backoff:    250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Enqueue submits an entry for asynchronous persistence. When the inbox is
// full it blocks until there is room or the context is cancelled, so
// records back-pressure rather than vanish.
func (w *Writer) Enqueue(ctx context.Context, entry audit.Entry) error {
	select {
	case w.inbox <- entry:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains the inbox until the context is cancelled, then flushes what
// remains before returning.
func (w *Writer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.flush()
			return ctx.Err()
		case entry := <-w.inbox:
			w.persist(ctx, entry)
		}
	}
}

// flush persists whatever is buffered using a background context, since
// the run context is already cancelled during shutdown.
func (w *Writer) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for {
		select {
		case entry := <-w.inbox:
			w.persist(ctx, entry)
		default:
			return
		}
	}
}

func (w *Writer) persist(ctx context.Context, entry audit.Entry) {
	var err error
	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(w.backoff * time.Duration(attempt)):
			case <-ctx.Done():
				return
			}
		}
		if err = w.store.Append(ctx, entry); err == nil {
			return
		}
	}
	if w.logger != nil {
		w.logger.Error("audit entry dropped after retries",
			"event_type", entry.EventType,
			"request_id", entry.RequestID,
			"error", err,
		)
	}
}
