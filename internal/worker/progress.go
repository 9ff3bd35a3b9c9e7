package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cuongbtq/jobpulse/internal/domain"
)

// progressReporter persists and publishes progress of one job, at most once
// per interval. 100 is never reported here; completion carries it.
type progressReporter struct {
	store    Store
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
	userID   string
	jobID    string

	mu      sync.Mutex
	limiter *rate.Limiter
	last    int
}

func newProgressReporter(w *Worker, job *domain.JobRecord) *progressReporter {
	return &progressReporter{
		store:    w.store,
		notifier: w.notifier,
		logger:   w.logger,
		now:      w.now,
		userID:   job.UserID,
		jobID:    job.JobID,
		limiter:  rate.NewLimiter(rate.Every(w.progressInterval), 1),
		last:     job.Progress,
	}
}

// Report records percent if it moved forward and the throttle allows it
func (p *progressReporter) Report(ctx context.Context, percent int) {
	if percent >= 100 {
		percent = 99
	}

	p.mu.Lock()
	if percent <= p.last || !p.limiter.Allow() {
		p.mu.Unlock()
		return
	}
	p.last = percent
	p.mu.Unlock()

	if err := p.store.UpdateProgress(ctx, p.jobID, percent); err != nil {
		p.logger.Warn("Failed to update job progress",
			slog.String("job_id", p.jobID),
			slog.String("error", err.Error()),
		)
		return
	}

	p.notifier.Notify(ctx, domain.NewProgressUpdate(p.userID, p.jobID, percent, p.now()))
}
