// Package reaper finds jobs that stalled mid-flight and either retries them or
// demotes them to the dead-letter store once their retry budget is spent.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/jobpulse/internal/domain"
	"github.com/cuongbtq/jobpulse/internal/metrics"
	"github.com/cuongbtq/jobpulse/internal/storage"
)

// DefaultBatchSize is the page size used when a policy leaves it unset
const DefaultBatchSize = 500

// Store is the slice of the job store the sweep needs
type Store interface {
	ListStale(ctx context.Context, q storage.StaleQuery) ([]*domain.ActiveJobEntry, error)
	RetryStale(ctx context.Context, entry *domain.ActiveJobEntry, reason string) error
	DeadLetterStale(ctx context.Context, entry *domain.ActiveJobEntry, reason string) error
}

// Requeuer republishes a retried job to the jobs queue
type Requeuer interface {
	Enqueue(ctx context.Context, msg *domain.JobMessage) error
}

// Notifier delivers a live update to a user's viewers
type Notifier interface {
	Notify(ctx context.Context, update domain.JobUpdate)
}

// Policy is the timeout and retry scope of one feature family
type Policy struct {
	Family       string
	FeatureTypes []domain.FeatureType
	Timeout      time.Duration
	BatchSize    int
	AgeFrom      domain.AgeFrom
}

// Result summarizes one or more sweeps
type Result struct {
	Cleaned           int      `json:"cleaned"`
	Retried           int      `json:"retried"`
	MovedToDeadLetter int      `json:"movedToDeadLetter"`
	Failed            int      `json:"failed"`
	Skipped           int      `json:"skipped"`
	Errors            []string `json:"errors,omitempty"`
}

// Merge adds other's counts into r
func (r *Result) Merge(other Result) {
	r.Cleaned += other.Cleaned
	r.Retried += other.Retried
	r.MovedToDeadLetter += other.MovedToDeadLetter
	r.Failed += other.Failed
	r.Skipped += other.Skipped
	r.Errors = append(r.Errors, other.Errors...)
}

// Config holds reaper dependencies
type Config struct {
	Store       Store
	Requeuer    Requeuer
	Notifier    Notifier
	Policies    []Policy
	StepTimeout time.Duration
	Logger      *slog.Logger
	Now         func() time.Time
}

// Reaper runs stall sweeps over the active job index
type Reaper struct {
	store       Store
	requeuer    Requeuer
	notifier    Notifier
	policies    []Policy
	stepTimeout time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// New creates a Reaper
func New(cfg *Config) *Reaper {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	stepTimeout := cfg.StepTimeout
	if stepTimeout <= 0 {
		stepTimeout = 10 * time.Second
	}
	return &Reaper{
		store:       cfg.Store,
		requeuer:    cfg.Requeuer,
		notifier:    cfg.Notifier,
		policies:    cfg.Policies,
		stepTimeout: stepTimeout,
		logger:      cfg.Logger,
		now:         now,
	}
}

// SweepAll sweeps every configured family. A failed page scan stops only its
// own family; the first such error is returned once all families have run.
func (r *Reaper) SweepAll(ctx context.Context) (Result, error) {
	var total Result
	var firstErr error

	for _, p := range r.policies {
		res, err := r.Sweep(ctx, p)
		total.Merge(res)
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("family %s: %w", p.Family, err)
		}
		if ctx.Err() != nil {
			break
		}
	}

	return total, firstErr
}

// Sweep scans one family's stale processing entries page by page, oldest first
func (r *Reaper) Sweep(ctx context.Context, p Policy) (Result, error) {
	var res Result
	started := r.now()

	batch := p.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}

	q := storage.StaleQuery{
		FeatureTypes: p.FeatureTypes,
		AgeFrom:      p.AgeFrom,
		OlderThan:    started.Add(-p.Timeout),
		Limit:        batch,
	}

	scanErr := func() error {
		for {
			page, err := r.store.ListStale(ctx, q)
			if err != nil {
				return fmt.Errorf("failed to scan stale jobs: %w", err)
			}

			for _, entry := range page {
				res.Cleaned++
				r.handle(ctx, p, entry, &res)
			}

			if len(page) < batch {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}

			last := page[len(page)-1]
			q.After = &storage.Cursor{At: last.Since(p.AgeFrom), ID: last.JobID}
		}
	}()

	took := r.now().Sub(started)
	metrics.ObserveSweep(p.Family, res.Retried, res.MovedToDeadLetter, res.Skipped, len(res.Errors), took, scanErr != nil)

	if scanErr != nil {
		r.logger.Error("Sweep aborted",
			slog.String("family", p.Family),
			slog.Int("cleaned", res.Cleaned),
			slog.Any("error", scanErr),
		)
		return res, scanErr
	}

	if res.Cleaned > 0 {
		r.logger.Info("Sweep finished",
			slog.String("family", p.Family),
			slog.Int("cleaned", res.Cleaned),
			slog.Int("retried", res.Retried),
			slog.Int("moved_to_dead_letter", res.MovedToDeadLetter),
			slog.Int("skipped", res.Skipped),
			slog.Int("errors", len(res.Errors)),
			slog.Duration("took", took),
		)
	}

	return res, nil
}

func (r *Reaper) handle(ctx context.Context, p Policy, entry *domain.ActiveJobEntry, res *Result) {
	stepCtx, cancel := context.WithTimeout(ctx, r.stepTimeout)
	defer cancel()

	if entry.CanRetry() {
		r.retry(stepCtx, p, entry, res)
		return
	}
	r.deadLetter(stepCtx, p, entry, res)
}

func (r *Reaper) retry(ctx context.Context, p Policy, entry *domain.ActiveJobEntry, res *Result) {
	attempt := entry.RetryCount + 1
	reason := fmt.Sprintf("Job timed out after %s (attempt %d/%d)", FormatTimeout(p.Timeout), attempt, entry.MaxRetries)

	if err := r.store.RetryStale(ctx, entry, reason); err != nil {
		r.recordFailure(entry, "retry", err, res)
		return
	}
	res.Retried++

	msg := &domain.JobMessage{
		JobID:       entry.JobID,
		UserID:      entry.UserID,
		FeatureType: entry.FeatureType,
		Priority:    entry.Priority,
		Attempt:     attempt,
	}
	if err := r.requeuer.Enqueue(ctx, msg); err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("job %s: republish failed: %v", entry.JobID, err))
		r.logger.Error("Failed to republish retried job",
			slog.String("job_id", entry.JobID),
			slog.Any("error", err),
		)
	}

	r.logger.Warn("Stalled job requeued",
		slog.String("job_id", entry.JobID),
		slog.String("user_id", entry.UserID),
		slog.Int("attempt", attempt),
		slog.Int("max_retries", entry.MaxRetries),
	)

	r.notifier.Notify(ctx, domain.NewRetryUpdate(entry, attempt, reason, r.now()))
}

func (r *Reaper) deadLetter(ctx context.Context, p Policy, entry *domain.ActiveJobEntry, res *Result) {
	reason := fmt.Sprintf("Job timed out after %s and exhausted %d retries", FormatTimeout(p.Timeout), entry.MaxRetries)

	if err := r.store.DeadLetterStale(ctx, entry, reason); err != nil {
		r.recordFailure(entry, "dead-letter", err, res)
		return
	}
	res.MovedToDeadLetter++
	res.Failed++

	r.logger.Warn("Stalled job moved to dead letter",
		slog.String("job_id", entry.JobID),
		slog.String("user_id", entry.UserID),
		slog.Int("retry_count", entry.RetryCount),
	)

	r.notifier.Notify(ctx, domain.NewFailedUpdate(entry.UserID, entry.JobID, entry.FeatureType, reason, r.now()))
}

// recordFailure counts a lost race as skipped and anything else as a per-job error
func (r *Reaper) recordFailure(entry *domain.ActiveJobEntry, action string, err error, res *Result) {
	if errors.Is(err, domain.ErrTransitionConflict) {
		res.Skipped++
		r.logger.Debug("Stale job changed state before "+action,
			slog.String("job_id", entry.JobID),
		)
		return
	}

	res.Errors = append(res.Errors, fmt.Sprintf("job %s: %s failed: %v", entry.JobID, action, err))
	r.logger.Error("Failed to "+action+" stale job",
		slog.String("job_id", entry.JobID),
		slog.Any("error", err),
	)
}

// FormatTimeout renders whole minutes as "N minutes" and anything else as a Go duration
func FormatTimeout(d time.Duration) string {
	if d > 0 && d%time.Minute == 0 {
		m := int(d / time.Minute)
		if m == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", m)
	}
	return d.String()
}
