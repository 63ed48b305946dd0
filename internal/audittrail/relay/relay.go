// Package relay drains the audit-trail outbox to an external stream so SIEM
// tooling can consume the trail. Delivery is at-least-once; consumers
// deduplicate on entry id.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"veritas/internal/audittrail"
	"veritas/internal/audittrail/metrics"
	id "veritas/pkg/domain"
)

// OutboxStore is the slice of the trail store the relay needs.
type OutboxStore interface {
	PendingOutbox(ctx context.Context, limit int) ([]audittrail.Entry, error)
	MarkPublished(ctx context.Context, ids []id.EntryID) error
}

// Producer publishes one trail entry record. Keyed by engagement so an
// engagement's entries stay ordered within a partition.
type Producer interface {
	Produce(ctx context.Context, key, value []byte) error
}

// KafkaProducer publishes to a Kafka topic via franz-go.
type KafkaProducer struct {
	client *kgo.Client
	topic  string
}

// NewKafkaProducer connects to the brokers and returns a producer for topic.
func NewKafkaProducer(brokers []string, topic string) (*KafkaProducer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &KafkaProducer{client: client, topic: topic}, nil
}

// Produce publishes one record synchronously.
func (p *KafkaProducer) Produce(ctx context.Context, key, value []byte) error {
	rec := &kgo.Record{Topic: p.topic, Key: key, Value: value}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("produce audit record: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying client.
func (p *KafkaProducer) Close() {
	p.client.Close()
}

// Relay polls the outbox and publishes pending entries.
type Relay struct {
	store    OutboxStore
	producer Producer
	logger   *slog.Logger
	metrics  *metrics.Metrics
	interval time.Duration
	batch    int
}

// Option configures the Relay.
type Option func(*Relay)

// WithInterval sets the poll interval.
func WithInterval(d time.Duration) Option {
	return func(r *Relay) { r.interval = d }
}

// WithBatchSize sets the max entries drained per poll.
func WithBatchSize(n int) Option {
	return func(r *Relay) { r.batch = n }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Relay) { r.metrics = m }
}

// New builds a relay over a store and producer.
func New(store OutboxStore, producer Producer, logger *slog.Logger, opts ...Option) *Relay {
	r := &Relay{
		store:    store,
		producer: producer,
		logger:   logger,
		interval: 2 * time.Second,
		batch:    100,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run polls until the context is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.DrainOnce(ctx); err != nil {
				r.logger.ErrorContext(ctx, "outbox drain failed", "error", err.Error())
			}
		}
	}
}

// DrainOnce publishes one batch of pending entries in order. The published
// prefix is marked even when a later entry fails, so the next poll resumes at
// the failure point instead of re-sending the whole batch.
func (r *Relay) DrainOnce(ctx context.Context) error {
	entries, err := r.store.PendingOutbox(ctx, r.batch)
	if err != nil {
		return fmt.Errorf("load pending outbox: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	published := make([]id.EntryID, 0, len(entries))
	var firstErr error
	for i := range entries {
		e := &entries[i]
		value, err := json.Marshal(e)
		if err != nil {
			firstErr = fmt.Errorf("marshal entry %s: %w", e.ID, err)
			break
		}
		if err := r.producer.Produce(ctx, []byte(e.EngagementID.String()), value); err != nil {
			if r.metrics != nil {
				r.metrics.OutboxErrors.Inc()
			}
			firstErr = err
			break
		}
		published = append(published, e.ID)
	}

	if len(published) > 0 {
		if err := r.store.MarkPublished(ctx, published); err != nil {
			return fmt.Errorf("mark published: %w", err)
		}
		if r.metrics != nil {
			r.metrics.OutboxPublished.Add(float64(len(published)))
		}
	}
	return firstErr
}
