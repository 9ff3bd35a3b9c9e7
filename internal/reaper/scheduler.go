package reaper

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/robfig/cron/v3"
)

// Scheduler triggers SweepAll on a cron schedule inside the API process.
// Overlapping ticks are dropped; sweeps started over HTTP still run concurrently.
type Scheduler struct {
	cron    *cron.Cron
	reaper  *Reaper
	logger  *slog.Logger
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler parses schedule (standard 5-field or @every descriptors)
func NewScheduler(schedule string, r *Reaper, logger *slog.Logger) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:   cron.New(),
		reaper: r,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}

	if _, err := s.cron.AddFunc(schedule, s.tick); err != nil {
		cancel()
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins firing the schedule in the background
func (s *Scheduler) Start() {
	s.logger.Info("Sweep scheduler started", slog.Int("entries", len(s.cron.Entries())))
	s.cron.Start()
}

// Stop cancels an in-progress sweep and waits for it to return
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("Sweep scheduler stopped")
}

func (s *Scheduler) tick() {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("Previous scheduled sweep still running, skipping tick")
		return
	}
	defer s.running.Store(false)

	res, err := s.reaper.SweepAll(s.ctx)
	if err != nil {
		s.logger.Error("Scheduled sweep failed",
			slog.Int("cleaned", res.Cleaned),
			slog.Any("error", err),
		)
		return
	}

	s.logger.Debug("Scheduled sweep completed",
		slog.Int("cleaned", res.Cleaned),
		slog.Int("retried", res.Retried),
		slog.Int("moved_to_dead_letter", res.MovedToDeadLetter),
	)
}
