package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/cuongbtq/jobpulse/internal/domain"
)

// Broker is the publishing half of the RabbitMQ client
type Broker interface {
	PublishWithRetry(ctx context.Context, routingKey string, body []byte, contentType string) error
}

// Publisher is the worker-side Notifier: it ships updates to the API relay
type Publisher struct {
	broker     Broker
	routingKey string
	logger     *slog.Logger
}

var _ Notifier = (*Publisher)(nil)

// NewPublisher creates a publisher for the given events routing key
func NewPublisher(broker Broker, routingKey string, logger *slog.Logger) *Publisher {
	return &Publisher{broker: broker, routingKey: routingKey, logger: logger}
}

// Notify publishes update; live pushes are best effort so failures are only logged
func (p *Publisher) Notify(ctx context.Context, update domain.JobUpdate) {
	body, err := json.Marshal(update)
	if err != nil {
		p.logger.Error("Failed to marshal job update",
			slog.String("job_id", update.JobID),
			slog.Any("error", err),
		)
		return
	}

	if err := p.broker.PublishWithRetry(ctx, p.routingKey, body, "application/json"); err != nil {
		p.logger.Warn("Failed to publish job update",
			slog.String("job_id", update.JobID),
			slog.String("type", update.Type),
			slog.Any("error", err),
		)
	}
}
