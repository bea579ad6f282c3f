// Package mirror republishes security events onto a Kafka topic for
// downstream consumers (dashboards, long-term analytics).
package mirror

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"agentwarden/internal/schema"
)

// Mirror is a pipeline handler that writes each event to Kafka. Delivery is
// best-effort; a broker outage never blocks detection or alerting.
type Mirror struct {
	writer *kafka.Writer
}

// New creates a mirror writing to topic on the given brokers.
func New(brokers []string, topic string) *Mirror {
	return &Mirror{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 100 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
			Async:        true,
			Completion: func(messages []kafka.Message, err error) {
				if err != nil {
					slog.Warn("event mirror write failed", "count", len(messages), "error", err)
				}
			},
		},
	}
}

// HandleEvent publishes one event keyed by category, so per-category
// ordering survives partitioning.
func (m *Mirror) HandleEvent(ctx context.Context, event *schema.SecurityEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return m.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Category),
		Value: data,
	})
}

// Close flushes buffered messages.
func (m *Mirror) Close() error {
	return m.writer.Close()
}
