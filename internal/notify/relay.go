package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/jobpulse/internal/domain"
	"github.com/cuongbtq/jobpulse/internal/metrics"
)

// Relay consumes job updates published by workers and hands them to a Notifier
type Relay struct {
	notifier Notifier
	logger   *slog.Logger
}

// NewRelay creates a relay delivering into notifier
func NewRelay(notifier Notifier, logger *slog.Logger) *Relay {
	return &Relay{notifier: notifier, logger: logger}
}

// Run drains deliveries until ctx is canceled or the channel closes
func (r *Relay) Run(ctx context.Context, deliveries <-chan amqp.Delivery) {
	r.logger.Info("Event relay started")

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Event relay stopped - context canceled")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				r.logger.Warn("Event delivery channel closed")
				return
			}
			r.handle(ctx, delivery)
		}
	}
}

func (r *Relay) handle(ctx context.Context, delivery amqp.Delivery) {
	var update domain.JobUpdate
	if err := json.Unmarshal(delivery.Body, &update); err != nil || update.UserID == "" || update.Type == "" {
		r.logger.Error("Dropping malformed job update",
			slog.Any("error", err),
			slog.Int("body_size", len(delivery.Body)),
		)
		metrics.IncRelay("malformed")
		if nackErr := delivery.Nack(false, false); nackErr != nil {
			r.logger.Error("Failed to NACK malformed update",
				slog.String("error", nackErr.Error()),
			)
		}
		return
	}

	r.notifier.Notify(ctx, update)
	metrics.IncRelay("relayed")

	if ackErr := delivery.Ack(false); ackErr != nil {
		r.logger.Error("Failed to ACK job update",
			slog.String("job_id", update.JobID),
			slog.String("error", ackErr.Error()),
		)
	}
}
