// Package queue publishes job messages to the jobs routing key.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cuongbtq/jobpulse/internal/domain"
)

// Publisher is the publishing half of the RabbitMQ client
type Publisher interface {
	PublishWithRetry(ctx context.Context, routingKey string, body []byte, contentType string) error
}

// JobQueue enqueues jobs for the worker service
type JobQueue struct {
	publisher  Publisher
	routingKey string
}

// New creates a JobQueue publishing under routingKey
func New(publisher Publisher, routingKey string) *JobQueue {
	return &JobQueue{publisher: publisher, routingKey: routingKey}
}

// Enqueue publishes msg as JSON
func (q *JobQueue) Enqueue(ctx context.Context, msg *domain.JobMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal job message: %w", err)
	}

	if err := q.publisher.PublishWithRetry(ctx, q.routingKey, body, "application/json"); err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", msg.JobID, err)
	}
	return nil
}
