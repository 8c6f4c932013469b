package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/trogers1052/eod-ingest-service/internal/models"
)

// messageWriter is the part of *kafka.Writer the producer uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes batch completion events to Kafka
type Producer struct {
	writer  messageWriter
	topic   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewProducer creates a new Kafka producer. timeout bounds each publish.
func NewProducer(brokers []string, topic string, timeout time.Duration, logger *slog.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return newProducer(writer, topic, timeout, logger)
}

func newProducer(w messageWriter, topic string, timeout time.Duration, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Producer{
		writer:  w,
		topic:   topic,
		timeout: timeout,
		logger:  logger,
	}
}

// Publish writes the event and waits for the broker's acknowledgement.
// Failures are logged and reported as false; they never fail the batch.
func (p *Producer) Publish(ctx context.Context, event models.CompletionEvent) bool {
	if err := p.publish(ctx, event.RunID, event); err != nil {
		p.logger.Error("Failed to publish completion event",
			slog.String("topic", p.topic),
			slog.String("run_id", event.RunID),
			slog.Any("error", models.NewError(models.KindNotify, "publish", err)))
		return false
	}
	p.logger.Info("Published completion event",
		slog.String("topic", p.topic),
		slog.String("run_id", event.RunID))
	return true
}

func (p *Producer) publish(ctx context.Context, key string, event models.CompletionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}

	return nil
}

// Close closes the Kafka producer
func (p *Producer) Close() error {
	return p.writer.Close()
}
