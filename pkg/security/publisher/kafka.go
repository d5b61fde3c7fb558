// Package publisher fans security events out to a Kafka topic for SIEM
// ingestion. Emission is buffered and fail-open: a slow or unreachable
// broker costs monitoring signal, never a caller's request.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"phiguard/pkg/security"
)

// DefaultTopic is the security event stream consumed by the SIEM pipeline.
const DefaultTopic = "phiguard.security.events"

const drainBatchSize = 256

// Kafka publishes buffered security events to a topic.
type Kafka struct {
	client *kgo.Client
	topic  string
	buffer *ringBuffer
	logger *slog.Logger
	tick   time.Duration
}

// Option configures the Kafka publisher.
type Option func(*Kafka)

// WithTopic overrides the destination topic.
func WithTopic(topic string) Option {
	return func(k *Kafka) { k.topic = topic }
}

// WithLogger sets a structured logger for delivery diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(k *Kafka) { k.logger = logger }
}

// WithBufferCapacity sizes the drop-oldest ring buffer.
func WithBufferCapacity(capacity int) Option {
	return func(k *Kafka) { k.buffer = newRingBuffer(capacity) }
}

// WithFlushInterval sets how often the drain loop wakes when idle.
func WithFlushInterval(d time.Duration) Option {
	return func(k *Kafka) { k.tick = d }
}

// NewKafka creates a publisher over an existing franz-go client.
func NewKafka(client *kgo.Client, opts ...Option) (*Kafka, error) {
	if client == nil {
		return nil, errors.New("kafka client is required")
	}
	k := &Kafka{
		client: client,
		topic:  DefaultTopic,
		buffer: newRingBuffer(0),
		logger: slog.Default(),
		tick:   time.Second,
	}
	for _, opt := range opts {
		opt(k)
	}
	return k, nil
}

// EnsureTopic creates the destination topic if it does not exist yet.
// Called once at startup so first events are not delayed by auto-creation.
func (k *Kafka) EnsureTopic(ctx context.Context, partitions int32, replication int16) error {
	admin := kadm.NewClient(k.client)
	resp, err := admin.CreateTopic(ctx, partitions, replication, nil, k.topic)
	if err != nil {
		return err
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		return resp.Err
	}
	return nil
}

// Emit buffers one event for delivery. Never blocks; when the buffer is
// full the oldest event is dropped.
func (k *Kafka) Emit(event security.Event) {
	k.buffer.enqueue(event)
}

// Run drains the buffer until the context is cancelled, then attempts a
// final flush before returning.
func (k *Kafka) Run(ctx context.Context) error {
	ticker := time.NewTicker(k.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			k.drain(flushCtx)
			cancel()
			return ctx.Err()
		case <-ticker.C:
			k.drain(ctx)
		}
	}
}

func (k *Kafka) drain(ctx context.Context) {
	for {
		batch := k.buffer.dequeueBatch(drainBatchSize)
		if len(batch) == 0 {
			return
		}

		records := make([]*kgo.Record, 0, len(batch))
		for _, event := range batch {
			value, err := json.Marshal(kafkaEvent(event))
			if err != nil {
				k.logger.Error("serialize security event", "error", err)
				continue
			}
			records = append(records, &kgo.Record{
				Topic: k.topic,
				Key:   []byte(event.IPAddress + "/" + event.UserID),
				Value: value,
			})
		}
		if len(records) == 0 {
			continue
		}

		if err := k.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
			// Fail-open: log and drop the batch rather than stall intake.
			k.logger.Warn("security event delivery failed",
				"count", len(records),
				"error", err,
			)
			return
		}
	}
}

// Dropped reports how many events were discarded because the buffer was
// full. Exposed for health reporting.
func (k *Kafka) Dropped() int64 {
	return k.buffer.droppedCount()
}

// wireEvent is the JSON shape published to the topic.
type wireEvent struct {
	Type      string            `json:"type"`
	Severity  string            `json:"severity"`
	Timestamp time.Time         `json:"timestamp"`
	UserID    string            `json:"userId,omitempty"`
	IPAddress string            `json:"ipAddress,omitempty"`
	Resource  string            `json:"resource,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

func kafkaEvent(e security.Event) wireEvent {
	return wireEvent{
		Type:      string(e.Type),
		Severity:  string(e.Severity),
		Timestamp: e.Timestamp,
		UserID:    e.UserID,
		IPAddress: e.IPAddress,
		Resource:  e.Resource,
		Details:   e.Details,
	}
}
