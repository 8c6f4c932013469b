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

// Reconciler loads newly stored artifacts into the warehouse
type Reconciler interface {
	Reconcile(ctx context.Context) (*models.ReconcileResult, error)
}

// messageReader is the part of *kafka.Reader the consumer uses
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Consumer reconciles the warehouse whenever an ingestion batch completes.
// Deployments where the ingest service cannot reach the warehouse run this
// instead of reconciling in-process.
type Consumer struct {
	reader     messageReader
	topic      string
	reconciler Reconciler
	logger     *slog.Logger
}

// NewConsumer creates a new Kafka consumer for completion events
func NewConsumer(brokers []string, topic, groupID string, reconciler Reconciler, logger *slog.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		StartOffset:    kafka.LastOffset,
		CommitInterval: time.Second,
	})

	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		reader:     reader,
		topic:      topic,
		reconciler: reconciler,
		logger:     logger,
	}
}

// Start begins consuming messages from Kafka
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("Starting Kafka consumer", slog.String("topic", c.topic))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Kafka consumer shutting down")
			return c.reader.Close()
		default:
			msg, err := c.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return c.reader.Close()
				}
				c.logger.Error("Error reading message", slog.Any("error", err))
				continue
			}

			if err := c.processMessage(ctx, msg); err != nil {
				c.logger.Error("Error processing message",
					slog.Int("partition", msg.Partition),
					slog.Int64("offset", msg.Offset),
					slog.Any("error", err))
			}
		}
	}
}

// processMessage handles a single Kafka message
func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message) error {
	var event models.CompletionEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal completion event: %w", err)
	}

	if event.EventType != models.EventTypeBatchCompleted {
		c.logger.Debug("Ignoring event type", slog.String("event_type", event.EventType))
		return nil
	}
	if event.Aborted {
		c.logger.Info("Batch aborted, nothing to reconcile",
			slog.String("run_id", event.RunID),
			slog.String("error", event.Error))
		return nil
	}

	res, err := c.reconciler.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("failed to reconcile after run %s: %w", event.RunID, err)
	}

	c.logger.Info("Reconciled after batch",
		slog.String("run_id", event.RunID),
		slog.Int("inserted", len(res.Inserted)),
		slog.Int("rows", res.Rows),
		slog.Int("failed", len(res.Failed)))
	return nil
}
