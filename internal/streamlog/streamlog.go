// Package streamlog implements the Message Log (C1): the durable, partitioned
// publish/subscribe layer between the Ingestion Service and the Delivery
// Workers, backed by Kafka (spec.md §4.1, §4.3, §4.5). Partitioning keys on
// user_id so all notifications for one user stay in relative order across
// workers within a partition.
package streamlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/notifyhub/event-driven-arch/internal/domain"
)

const (
	TopicNotifications = "notifications"
	TopicRetry         = "notifications.retry"
	TopicDLQ           = "notifications.dlq"

	HeaderSchemaVersion   = "schema_version"
	HeaderIdempotencyKey  = "idempotency_key"
	HeaderPriority        = "priority"
	HeaderRetryCount      = "retry_count"
	HeaderNotBefore       = "delivery-not-before"
	HeaderDLQReason       = "dlq-reason"
	HeaderOriginalTopic   = "dlq-original-topic"
	HeaderProducerFailure = "producer-failure"
)

// Producer publishes LogMessages to the partitioned log.
type Producer struct {
	writer *kafka.Writer
}

// NewProducer creates a Producer that load-balances across brokers using the
// message key (user_id) for partition assignment.
func NewProducer(brokers []string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
		},
	}
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// PublishOptions carries the per-message metadata that becomes Kafka headers.
type PublishOptions struct {
	Topic           string
	NotBefore       *time.Time
	DLQReason       string
	OriginalTopic   string
	ProducerFailure bool
}

// Publish marshals msg and writes it to opts.Topic, keyed by user_id, with
// the headers spec.md §4.3 requires for routing and replay without a schema
// registry lookup.
func (p *Producer) Publish(ctx context.Context, msg domain.LogMessage, opts PublishOptions) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal log message: %w", err)
	}

	headers := []kafka.Header{
		{Key: HeaderSchemaVersion, Value: []byte(fmt.Sprintf("%d", msg.SchemaVersion))},
		{Key: HeaderIdempotencyKey, Value: []byte(msg.IdempotencyKey)},
		{Key: HeaderPriority, Value: []byte(msg.Priority)},
		{Key: HeaderRetryCount, Value: []byte(fmt.Sprintf("%d", msg.RetryCount))},
	}
	if opts.NotBefore != nil {
		headers = append(headers, kafka.Header{Key: HeaderNotBefore, Value: []byte(opts.NotBefore.Format(time.RFC3339))})
	}
	if opts.DLQReason != "" {
		headers = append(headers, kafka.Header{Key: HeaderDLQReason, Value: []byte(opts.DLQReason)})
	}
	if opts.OriginalTopic != "" {
		headers = append(headers, kafka.Header{Key: HeaderOriginalTopic, Value: []byte(opts.OriginalTopic)})
	}
	if opts.ProducerFailure {
		headers = append(headers, kafka.Header{Key: HeaderProducerFailure, Value: []byte("true")})
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   opts.Topic,
		Key:     []byte(msg.UserID),
		Value:   body,
		Headers: headers,
		Time:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", opts.Topic, err)
	}
	return nil
}

// Consumer reads LogMessages from one topic within a consumer group, used by
// Delivery Workers (topic=notifications, notifications.retry) and by the
// retry/DLQ reliability layer.
type Consumer struct {
	reader *kafka.Reader
}

// NewConsumer creates a Consumer bound to a single topic/consumer-group.
// Explicit commits only (CommitInterval: 0), matching the worker's offset
// discipline described in spec.md §4.4: the offset must never advance past a
// message whose dispatch has not been durably recorded.
func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        brokers,
			Topic:          topic,
			GroupID:        groupID,
			MinBytes:       1,
			MaxBytes:       1 << 20,
			CommitInterval: 0,
			StartOffset:    kafka.FirstOffset,
		}),
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

// Fetched wraps a decoded LogMessage with the raw kafka.Message needed to
// commit its offset and read back any header the caller cares about.
type Fetched struct {
	Message domain.LogMessage
	Raw     kafka.Message
}

// Header returns the value of a header on the fetched raw message, or "" if
// absent.
func (f Fetched) Header(key string) string {
	for _, h := range f.Raw.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// Fetch blocks until the next message is available or ctx is cancelled. It
// does not commit the offset — callers must call Commit after the message is
// fully handled.
func (c *Consumer) Fetch(ctx context.Context) (Fetched, error) {
	raw, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return Fetched{}, err
	}

	var msg domain.LogMessage
	if err := json.Unmarshal(raw.Value, &msg); err != nil {
		return Fetched{Raw: raw}, fmt.Errorf("unmarshal log message: %w", err)
	}
	return Fetched{Message: msg, Raw: raw}, nil
}

// Commit advances the consumer group's offset past f. Must only be called
// after the dispatch outcome (SENT, RETRYING, or DLQ admission) has been
// durably persisted.
func (c *Consumer) Commit(ctx context.Context, f Fetched) error {
	return c.reader.CommitMessages(ctx, f.Raw)
}

// Lag exposes the reader's current lag for the partition it is assigned, for
// the consumer_lag metric (spec.md §8).
func (c *Consumer) Lag() int64 {
	return c.reader.Stats().Lag
}
