package msgfeed

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// ConsumerConfig holds the message feed source settings.
type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Consumer reads the inter-agent message topic and feeds the aggregator and
// status tracker.
type Consumer struct {
	reader  *kafka.Reader
	agg     *Aggregator
	tracker *StatusTracker

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConsumer creates a consumer over the fleet message topic.
func NewConsumer(cfg ConsumerConfig, agg *Aggregator, tracker *StatusTracker) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       1 << 20,
		CommitInterval: time.Second,
	})
	return &Consumer{reader: reader, agg: agg, tracker: tracker}
}

// Start launches the consume loop.
func (c *Consumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.run(ctx)
	slog.Info("message feed consumer started", "topic", c.reader.Config().Topic)
}

func (c *Consumer) run(ctx context.Context) {
	defer c.wg.Done()
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return
			}
			slog.Warn("message feed read failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		var msg Message
		if err := json.Unmarshal(m.Value, &msg); err != nil {
			slog.Debug("malformed fleet message dropped", "offset", m.Offset, "error", err)
			continue
		}
		if msg.From == "" {
			continue
		}
		c.agg.Record(msg)
		if c.tracker != nil {
			c.tracker.Observe(msg)
		}
	}
}

// Stop halts the consume loop and closes the reader.
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	return c.reader.Close()
}
