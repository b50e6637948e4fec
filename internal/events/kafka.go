package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/snips/portfolio-engine/internal/metrics"
)

// MessageWriter is the subset of *kafka.Writer used by KafkaPublisher.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher forwards events to a Kafka topic for downstream consumers
// such as push notifications. The writer runs in async mode so Publish
// returns immediately; delivery failures are logged by the completion hook.
type KafkaPublisher struct {
	writer MessageWriter
}

// NewKafkaWriter builds an async writer for topic.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		Compression:            kafka.Gzip,
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
		Async:                  true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				metrics.EventsPublished.WithLabelValues("kafka", "error").Add(float64(len(messages)))
				slog.Error("kafka delivery failed", "topic", topic, "messages", len(messages), "err", err)
				return
			}
			metrics.EventsPublished.WithLabelValues("kafka", "delivered").Add(float64(len(messages)))
		},
	}
}

// NewKafkaPublisher wraps a writer.
func NewKafkaPublisher(w MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		metrics.EventsPublished.WithLabelValues("kafka", "error").Inc()
		return
	}
	msg := kafka.Message{
		Key:   []byte(ev.Key()),
		Value: data,
		Time:  ev.At,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
		},
	}
	// The caller's context may be cancelled once its request ends.
	if err := p.writer.WriteMessages(context.WithoutCancel(ctx), msg); err != nil {
		metrics.EventsPublished.WithLabelValues("kafka", "error").Inc()
		slog.Warn("kafka publish failed", "type", ev.Type, "err", err)
	}
}

// Close flushes pending messages.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
