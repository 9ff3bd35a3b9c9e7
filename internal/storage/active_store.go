package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/jobpulse/internal/domain"
)

// ListStale returns one keyset page of processing entries older than the query cutoff
func (s *Storage) ListStale(ctx context.Context, q StaleQuery) ([]*domain.ActiveJobEntry, error) {
	if len(q.FeatureTypes) == 0 || q.Limit <= 0 {
		return nil, nil
	}

	query, args := buildListStaleQuery(q)

	var entries []*domain.ActiveJobEntry
	if err := s.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list stale jobs: %w", err)
	}
	return entries, nil
}

// RetryStale requeues a stalled job, guarded on the status and retry count the sweep observed
func (s *Storage) RetryStale(ctx context.Context, entry *domain.ActiveJobEntry, reason string) error {
	return s.pg.WithTx(ctx, func(tx *sqlx.Tx) error {
		var retryCount int
		err := tx.GetContext(ctx, &retryCount, `
			UPDATE jobs
			SET status = $1, retry_count = retry_count + 1, error = $2, progress = 0, updated_at = NOW()
			WHERE job_id = $3 AND status = $4 AND retry_count = $5
			RETURNING retry_count`,
			domain.JobStatusQueued, reason, entry.JobID, domain.JobStatusProcessing, entry.RetryCount,
		)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrTransitionConflict
			}
			return fmt.Errorf("failed to retry job: %w", err)
		}

		return requeueActive(ctx, tx, entry.JobID, retryCount)
	})
}

// DeadLetterStale demotes a stalled job whose retry budget is spent
func (s *Storage) DeadLetterStale(ctx context.Context, entry *domain.ActiveJobEntry, reason string) error {
	return s.deadLetter(ctx, entry.JobID, reason, entry.RetryCount)
}
