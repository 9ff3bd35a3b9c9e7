package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/jobpulse/internal/domain"
	"github.com/cuongbtq/jobpulse/shared/postgresql"
)

// Storage is the Postgres-backed job record store, active job index and dead-letter store
type Storage struct {
	pg     *postgresql.Client
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(pg *postgresql.Client, logger *slog.Logger) *Storage {
	return &Storage{
		pg:     pg,
		db:     pg.GetDB(),
		logger: logger,
	}
}

// CreateJob inserts the record and its active index entry in one transaction
func (s *Storage) CreateJob(ctx context.Context, job *domain.JobRecord, priority int) error {
	return s.pg.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO jobs (
				job_id, user_id, feature_type, status, retry_count, max_retries,
				payload, error, progress, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, '', 0, $8, $9)`,
			job.JobID, job.UserID, job.FeatureType, job.Status, job.RetryCount, job.MaxRetries,
			jsonArg(job.Payload), job.CreatedAt, job.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create job: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO active_jobs (
				user_id, job_id, feature_type, status, priority, retry_count, max_retries,
				created_at, last_attempt_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
			job.UserID, job.JobID, job.FeatureType, job.Status, priority, job.RetryCount, job.MaxRetries,
			job.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to index job: %w", err)
		}

		return nil
	})
}

// GetJob returns the durable record for jobID
func (s *Storage) GetJob(ctx context.Context, jobID string) (*domain.JobRecord, error) {
	var job domain.JobRecord
	err := s.db.GetContext(ctx, &job, "SELECT "+jobColumns+" FROM jobs WHERE job_id = $1", jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// ListJobs returns up to PageSize+1 records newest first so callers can detect a next page
func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]domain.JobRecord, error) {
	query, args := buildListJobsQuery(filter)

	var jobs []domain.JobRecord
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// ClaimJob moves a queued job to processing; losing the race yields ErrJobAlreadyClaimed
func (s *Storage) ClaimJob(ctx context.Context, jobID string) (*domain.JobRecord, error) {
	var job domain.JobRecord

	err := s.pg.WithTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &job, `
			UPDATE jobs
			SET status = $1, updated_at = NOW()
			WHERE job_id = $2 AND status = $3
			RETURNING `+jobColumns,
			domain.JobStatusProcessing, jobID, domain.JobStatusQueued,
		)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return s.claimMiss(ctx, tx, jobID)
			}
			return fmt.Errorf("failed to claim job: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE active_jobs
			SET status = $1, started_at = NOW(), last_attempt_at = NOW()
			WHERE job_id = $2`,
			domain.JobStatusProcessing, jobID,
		)
		if err != nil {
			return fmt.Errorf("failed to update active job: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Job claimed successfully",
		slog.String("job_id", jobID),
		slog.String("feature_type", string(job.FeatureType)),
		slog.Int("retry_count", job.RetryCount),
	)

	return &job, nil
}

func (s *Storage) claimMiss(ctx context.Context, tx *sqlx.Tx, jobID string) error {
	var status string
	err := tx.GetContext(ctx, &status, "SELECT status FROM jobs WHERE job_id = $1", jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrJobNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check job status: %w", err)
	}

	s.logger.Warn("Failed to claim job - not queued",
		slog.String("job_id", jobID),
		slog.String("status", status),
	)
	return domain.ErrJobAlreadyClaimed
}

// UpdateProgress records the latest progress percentage of a processing job
func (s *Storage) UpdateProgress(ctx context.Context, jobID string, progress int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET progress = $1, updated_at = NOW()
		WHERE job_id = $2 AND status = $3`,
		progress, jobID, domain.JobStatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}
	return expectRow(res)
}

// TouchJob is the worker heartbeat. It refreshes the index entry's
// last_attempt_at, which is the clock the stall sweep ages entries by, so a
// job that keeps beating is never reaped.
func (s *Storage) TouchJob(ctx context.Context, jobID string) error {
	return s.pg.WithTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE jobs
			SET updated_at = NOW()
			WHERE job_id = $1 AND status = $2`,
			jobID, domain.JobStatusProcessing,
		)
		if err != nil {
			return fmt.Errorf("failed to update job heartbeat: %w", err)
		}
		if err := expectRow(res); err != nil {
			return err
		}

		res, err = tx.ExecContext(ctx, `
			UPDATE active_jobs
			SET last_attempt_at = NOW()
			WHERE job_id = $1 AND status = $2`,
			jobID, domain.JobStatusProcessing,
		)
		if err != nil {
			return fmt.Errorf("failed to refresh active job: %w", err)
		}
		return expectRow(res)
	})
}

// CompleteJob records success and drops the index entry
func (s *Storage) CompleteJob(ctx context.Context, jobID string, result []byte) error {
	return s.finish(ctx, jobID, domain.JobStatusProcessing, domain.JobStatusCompleted, result, "")
}

// FailJob records a terminal failure and drops the index entry
func (s *Storage) FailJob(ctx context.Context, jobID, reason string) error {
	return s.finish(ctx, jobID, domain.JobStatusProcessing, domain.JobStatusFailed, nil, reason)
}

// AbandonJob fails a job that never left queued, such as one whose message could not be published
func (s *Storage) AbandonJob(ctx context.Context, jobID, reason string) error {
	return s.finish(ctx, jobID, domain.JobStatusQueued, domain.JobStatusFailed, nil, reason)
}

func (s *Storage) finish(ctx context.Context, jobID string, from, status domain.JobStatus, result []byte, reason string) error {
	return s.pg.WithTx(ctx, func(tx *sqlx.Tx) error {
		progressSQL := "progress"
		if status == domain.JobStatusCompleted {
			progressSQL = "100"
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE jobs
			SET status = $1, result = $2, error = $3, progress = `+progressSQL+`,
			    completed_at = NOW(), updated_at = NOW()
			WHERE job_id = $4 AND status = $5`,
			status, jsonArg(result), reason, jobID, from,
		)
		if err != nil {
			return fmt.Errorf("failed to update job status: %w", err)
		}
		if err := expectRow(res); err != nil {
			return err
		}

		if err := deleteActive(ctx, tx, jobID); err != nil {
			return err
		}

		s.logger.Info("Job status updated",
			slog.String("job_id", jobID),
			slog.String("status", string(status)),
		)
		return nil
	})
}

// RequeueJob sends a processing job back to queued while its retry budget lasts
func (s *Storage) RequeueJob(ctx context.Context, jobID, reason string) (*domain.JobRecord, error) {
	var job domain.JobRecord

	err := s.pg.WithTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &job, `
			UPDATE jobs
			SET status = $1, retry_count = retry_count + 1, error = $2, progress = 0, updated_at = NOW()
			WHERE job_id = $3 AND status = $4 AND retry_count < max_retries
			RETURNING `+jobColumns,
			domain.JobStatusQueued, reason, jobID, domain.JobStatusProcessing,
		)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrTransitionConflict
			}
			return fmt.Errorf("failed to requeue job: %w", err)
		}

		return requeueActive(ctx, tx, jobID, job.RetryCount)
	})
	if err != nil {
		return nil, err
	}

	return &job, nil
}

// DeadLetterJob demotes a processing job whose retries are exhausted
func (s *Storage) DeadLetterJob(ctx context.Context, jobID, reason string) error {
	return s.deadLetter(ctx, jobID, reason, -1)
}

// deadLetter writes the audit entry, fails the record and drops the index entry.
// expectRetryCount >= 0 additionally guards on the retry count the caller observed.
func (s *Storage) deadLetter(ctx context.Context, jobID, reason string, expectRetryCount int) error {
	return s.pg.WithTx(ctx, func(tx *sqlx.Tx) error {
		var job domain.JobRecord
		err := tx.GetContext(ctx, &job,
			"SELECT "+jobColumns+" FROM jobs WHERE job_id = $1 AND status = $2 FOR UPDATE",
			jobID, domain.JobStatusProcessing,
		)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrTransitionConflict
			}
			return fmt.Errorf("failed to lock job: %w", err)
		}
		if expectRetryCount >= 0 && job.RetryCount != expectRetryCount {
			return domain.ErrTransitionConflict
		}

		snapshot, err := job.Snapshot()
		if err != nil {
			return fmt.Errorf("failed to snapshot job: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO dead_letters (
				id, original_job_id, user_id, feature_type, job_data, reason,
				moved_at, retry_count, max_retries
			) VALUES ($1, $2, $3, $4, $5, $6, NOW(), $7, $8)
			ON CONFLICT (original_job_id) DO NOTHING`,
			uuid.New().String(), job.JobID, job.UserID, job.FeatureType, string(snapshot), reason,
			job.RetryCount, job.MaxRetries,
		)
		if err != nil {
			return fmt.Errorf("failed to insert dead letter: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE jobs
			SET status = $1, error = $2, completed_at = NOW(), updated_at = NOW()
			WHERE job_id = $3`,
			domain.JobStatusFailed, reason, jobID,
		)
		if err != nil {
			return fmt.Errorf("failed to fail job: %w", err)
		}

		return deleteActive(ctx, tx, jobID)
	})
}

func requeueActive(ctx context.Context, tx *sqlx.Tx, jobID string, retryCount int) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE active_jobs
		SET status = $1, retry_count = $2, started_at = NULL, last_attempt_at = NOW()
		WHERE job_id = $3 AND status = $4`,
		domain.JobStatusQueued, retryCount, jobID, domain.JobStatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("failed to update active job: %w", err)
	}
	return expectRow(res)
}

// deleteActive removes the index entry if present
func deleteActive(ctx context.Context, tx *sqlx.Tx, jobID string) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM active_jobs WHERE job_id = $1", jobID); err != nil {
		return fmt.Errorf("failed to delete active job: %w", err)
	}
	return nil
}

// expectRow turns a conditional update that matched nothing into ErrTransitionConflict
func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrTransitionConflict
	}
	return nil
}
