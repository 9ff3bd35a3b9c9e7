package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/jobpulse/internal/domain"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}

	w.logger.Info("Worker pool spawned successfully",
		slog.Int("worker_count", w.concurrency),
	)
}

// workerLoop is the main processing loop for each worker goroutine
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Info("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("Worker goroutine stopping - stopChan closed",
				slog.String("worker_name", workerName),
			)
			return

		case <-ctx.Done():
			w.logger.Info("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case j, ok := <-w.jobsChan:
			if !ok {
				w.logger.Info("Worker goroutine stopping - jobsChan closed",
					slog.String("worker_name", workerName),
				)
				return
			}

			w.handle(ctx, workerName, j)
		}
	}
}

// handle processes one job and settles its delivery
func (w *Worker) handle(ctx context.Context, workerName string, j *job) {
	w.logger.Info("Worker received job",
		slog.String("worker_name", workerName),
		slog.String("job_id", j.msg.JobID),
		slog.Uint64("delivery_tag", j.msg.DeliveryTag),
	)

	err := w.processJob(ctx, j.msg)
	if err == nil {
		if ackErr := j.delivery.Ack(false); ackErr != nil {
			w.logger.Error("Failed to ACK message",
				slog.String("worker_name", workerName),
				slog.String("job_id", j.msg.JobID),
				slog.String("error", ackErr.Error()),
			)
		}
		return
	}

	w.logger.Error("Job processing failed",
		slog.String("worker_name", workerName),
		slog.String("job_id", j.msg.JobID),
		slog.String("error", err.Error()),
	)

	requeue := shouldRequeueJob(err)
	if requeue {
		// redelivery is immediate, so a transient outage would otherwise spin
		w.waitBeforeRedelivery(ctx)
	}
	if nackErr := j.delivery.Nack(false, requeue); nackErr != nil {
		w.logger.Error("Failed to NACK message",
			slog.String("worker_name", workerName),
			slog.String("job_id", j.msg.JobID),
			slog.String("error", nackErr.Error()),
		)
		return
	}

	w.logger.Info("Message NACKed",
		slog.String("worker_name", workerName),
		slog.String("job_id", j.msg.JobID),
		slog.Bool("requeue", requeue),
	)
}

func (w *Worker) waitBeforeRedelivery(ctx context.Context) {
	timer := time.NewTimer(w.redeliveryDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	case <-w.stopChan:
	}
}

// shouldRequeueJob determines if a message should be redelivered based on the error type
func shouldRequeueJob(err error) bool {
	// Another worker owns it, or it already left queued
	if errors.Is(err, domain.ErrJobAlreadyClaimed) || errors.Is(err, domain.ErrJobNotFound) {
		return false
	}

	// Don't requeue if max retries exceeded
	if errors.Is(err, domain.ErrMaxRetriesExceeded) {
		return false
	}

	// Don't requeue if invalid payload
	if errors.Is(err, domain.ErrInvalidPayload) {
		return false
	}

	// Requeue for transient/retryable errors
	if domain.IsRetryable(err) {
		return true
	}

	// Default: don't requeue for unknown errors
	return false
}
