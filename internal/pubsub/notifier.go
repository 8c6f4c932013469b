// Package pubsub publishes batch completion events to a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/api/option"
	ps "google.golang.org/api/pubsub/v1"

	"github.com/trogers1052/eod-ingest-service/internal/models"
)

// Notifier publishes completion events to one topic
type Notifier struct {
	svc     *ps.Service
	topic   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewNotifier creates a publisher for projects/<projectID>/topics/<topic>
func NewNotifier(ctx context.Context, projectID, topic string, timeout time.Duration, logger *slog.Logger, opts ...option.ClientOption) (*Notifier, error) {
	svc, err := ps.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub service: %w", err)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		svc:     svc,
		topic:   fmt.Sprintf("projects/%s/topics/%s", projectID, topic),
		timeout: timeout,
		logger:  logger,
	}, nil
}

// Publish sends the event and waits for the server-assigned message id.
// It reports false on any failure and never returns an error.
func (n *Notifier) Publish(ctx context.Context, event models.CompletionEvent) bool {
	id, err := n.publish(ctx, event)
	if err != nil {
		n.logger.Error("Failed to publish completion event",
			slog.String("topic", n.topic),
			slog.String("run_id", event.RunID),
			slog.Any("error", models.NewError(models.KindNotify, "publish", err)))
		return false
	}
	n.logger.Info("Published completion event",
		slog.String("topic", n.topic),
		slog.String("run_id", event.RunID),
		slog.String("message_id", id))
	return true
}

func (n *Notifier) publish(ctx context.Context, event models.CompletionEvent) (string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event: %w", err)
	}

	req := &ps.PublishRequest{
		Messages: []*ps.PubsubMessage{{
			Data: base64.StdEncoding.EncodeToString(data),
			Attributes: map[string]string{
				"event_type": event.EventType,
				"run_id":     event.RunID,
			},
		}},
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	resp, err := n.svc.Projects.Topics.Publish(n.topic, req).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	if len(resp.MessageIds) == 0 {
		return "", errors.New("publish returned no message id")
	}
	return resp.MessageIds[0], nil
}
