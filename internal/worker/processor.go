package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/jobpulse/internal/domain"
	"github.com/cuongbtq/jobpulse/internal/metrics"
)

// processJob claims, executes and settles a single job. A nil return means the
// delivery can be acked: the job reached a terminal state or was requeued with a
// fresh message.
func (w *Worker) processJob(ctx context.Context, msg *domain.JobMessage) error {
	w.logger.Info("Processing job",
		slog.String("job_id", msg.JobID),
		slog.Int("attempt", msg.Attempt),
	)

	// Step 1: Claim job (queued → processing)
	job, err := w.store.ClaimJob(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobAlreadyClaimed) || errors.Is(err, domain.ErrJobNotFound) {
			w.logger.Warn("Job not claimable, skipping",
				slog.String("job_id", msg.JobID),
				slog.String("reason", err.Error()),
			)
			return fmt.Errorf("job not claimable: %w", err)
		}
		// Database error - could be transient
		return domain.NewRetryableError(fmt.Errorf("failed to claim job: %w", err))
	}

	// Step 2: Decode the payload for its feature type
	payload, err := domain.DecodePayload(job.FeatureType, job.Payload)
	if err == nil {
		err = payload.Validate()
	}
	if err != nil {
		w.fail(ctx, job, fmt.Sprintf("Invalid payload: %s", err.Error()), "failed")
		return err
	}

	executor, ok := w.executors[job.FeatureType]
	if !ok {
		err := fmt.Errorf("%w: no executor for feature type %s", domain.ErrInvalidPayload, job.FeatureType)
		w.fail(ctx, job, err.Error(), "failed")
		return err
	}

	// Step 3: Execute under the job timeout with heartbeat and progress
	jobCtx, cancel := w.jobContext(ctx)
	defer cancel()

	heartbeatDone := make(chan struct{})
	go w.sendJobHeartbeat(jobCtx, job.JobID, heartbeatDone)

	reporter := newProgressReporter(w, job)
	result, execErr := executor.Execute(jobCtx, job, payload, reporter.Report)
	close(heartbeatDone)

	if execErr == nil {
		return w.complete(ctx, job, result)
	}

	// Shutdown: leave the job processing so the reaper picks it up
	if ctx.Err() != nil {
		return fmt.Errorf("job interrupted by shutdown: %w", ctx.Err())
	}

	if errors.Is(execErr, context.DeadlineExceeded) {
		execErr = domain.NewRetryableError(fmt.Errorf("job exceeded timeout of %s: %w", w.jobTimeout, execErr))
	}

	w.logger.Error("Job execution failed",
		slog.String("job_id", job.JobID),
		slog.String("feature_type", string(job.FeatureType)),
		slog.String("error", execErr.Error()),
	)

	// Step 4: Retry, dead-letter or fail
	if !domain.IsRetryable(execErr) {
		w.fail(ctx, job, execErr.Error(), "failed")
		return nil
	}

	if job.CanRetry() {
		return w.requeue(ctx, job, msg.Priority, execErr)
	}

	w.logger.Warn("Job exceeded max retries",
		slog.String("job_id", job.JobID),
		slog.Int("retry_count", job.RetryCount),
		slog.Int("max_retries", job.MaxRetries),
	)

	reason := fmt.Sprintf("%s (exhausted %d retries)", execErr.Error(), job.MaxRetries)
	if err := w.store.DeadLetterJob(ctx, job.JobID, reason); err != nil {
		w.logTransitionError(job, "dead-letter", err)
	} else {
		metrics.IncOutcome(string(job.FeatureType), "dead_lettered")
		w.notifier.Notify(ctx, domain.NewFailedUpdate(job.UserID, job.JobID, job.FeatureType, reason, w.now()))
	}

	return fmt.Errorf("%w: %v", domain.ErrMaxRetriesExceeded, execErr)
}

func (w *Worker) jobContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if w.jobTimeout > 0 {
		return context.WithTimeout(ctx, w.jobTimeout)
	}
	return context.WithCancel(ctx)
}

func (w *Worker) complete(ctx context.Context, job *domain.JobRecord, result map[string]any) error {
	body, err := json.Marshal(result)
	if err != nil {
		w.fail(ctx, job, fmt.Sprintf("Failed to encode result: %s", err.Error()), "failed")
		return nil
	}

	if err := w.store.CompleteJob(ctx, job.JobID, body); err != nil {
		// the reaper may have moved it on; the job is no longer ours
		w.logTransitionError(job, "complete", err)
		return nil
	}

	w.logger.Info("Job completed successfully",
		slog.String("job_id", job.JobID),
		slog.String("feature_type", string(job.FeatureType)),
	)
	metrics.IncOutcome(string(job.FeatureType), "completed")
	w.notifier.Notify(ctx, domain.NewCompletedUpdate(job.UserID, job.JobID, job.FeatureType, result, w.now()))
	return nil
}

func (w *Worker) fail(ctx context.Context, job *domain.JobRecord, reason, outcome string) {
	if err := w.store.FailJob(ctx, job.JobID, reason); err != nil {
		w.logTransitionError(job, "fail", err)
		return
	}

	metrics.IncOutcome(string(job.FeatureType), outcome)
	w.notifier.Notify(ctx, domain.NewFailedUpdate(job.UserID, job.JobID, job.FeatureType, reason, w.now()))
}

func (w *Worker) requeue(ctx context.Context, job *domain.JobRecord, priority int, cause error) error {
	attempt := job.RetryCount + 1
	reason := fmt.Sprintf("%s (attempt %d/%d)", cause.Error(), attempt, job.MaxRetries)

	updated, err := w.store.RequeueJob(ctx, job.JobID, reason)
	if err != nil {
		w.logTransitionError(job, "requeue", err)
		return nil
	}

	msg := &domain.JobMessage{
		JobID:       updated.JobID,
		UserID:      updated.UserID,
		FeatureType: updated.FeatureType,
		Priority:    priority,
		Attempt:     updated.RetryCount,
	}
	if err := w.requeuer.Enqueue(ctx, msg); err != nil {
		w.logger.Error("Failed to republish requeued job",
			slog.String("job_id", job.JobID),
			slog.String("error", err.Error()),
		)
	}

	w.logger.Info("Job will be retried",
		slog.String("job_id", job.JobID),
		slog.Int("retry_count", updated.RetryCount),
		slog.Int("max_retries", updated.MaxRetries),
	)
	metrics.IncOutcome(string(job.FeatureType), "requeued")

	entry := &domain.ActiveJobEntry{
		JobID:       updated.JobID,
		UserID:      updated.UserID,
		FeatureType: updated.FeatureType,
		Priority:    priority,
		RetryCount:  updated.RetryCount,
		MaxRetries:  updated.MaxRetries,
	}
	w.notifier.Notify(ctx, domain.NewRetryUpdate(entry, updated.RetryCount, reason, w.now()))
	return nil
}

func (w *Worker) logTransitionError(job *domain.JobRecord, action string, err error) {
	if errors.Is(err, domain.ErrTransitionConflict) {
		w.logger.Warn("Job changed state before "+action,
			slog.String("job_id", job.JobID),
		)
		return
	}
	w.logger.Error("Failed to "+action+" job",
		slog.String("job_id", job.JobID),
		slog.String("error", err.Error()),
	)
}

// sendJobHeartbeat periodically touches the job as a liveness marker
func (w *Worker) sendJobHeartbeat(ctx context.Context, jobID string, done <-chan struct{}) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	w.logger.Debug("Job heartbeat started",
		slog.String("job_id", jobID),
	)

	for {
		select {
		case <-done:
			w.logger.Debug("Job heartbeat stopped",
				slog.String("job_id", jobID),
			)
			return

		case <-ctx.Done():
			w.logger.Debug("Job heartbeat stopped - context canceled",
				slog.String("job_id", jobID),
			)
			return

		case <-ticker.C:
			if err := w.store.TouchJob(ctx, jobID); err != nil {
				w.logger.Warn("Failed to update job heartbeat",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
