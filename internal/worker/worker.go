// Package worker consumes job messages, runs the per-feature executors and
// drives each job to a terminal state or back into the queue.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/jobpulse/internal/domain"
)

// Store is the slice of storage the completion path needs
type Store interface {
	ClaimJob(ctx context.Context, jobID string) (*domain.JobRecord, error)
	UpdateProgress(ctx context.Context, jobID string, progress int) error
	TouchJob(ctx context.Context, jobID string) error
	CompleteJob(ctx context.Context, jobID string, result []byte) error
	FailJob(ctx context.Context, jobID, reason string) error
	RequeueJob(ctx context.Context, jobID, reason string) (*domain.JobRecord, error)
	DeadLetterJob(ctx context.Context, jobID, reason string) error
}

// Broker is the consuming half of the RabbitMQ client
type Broker interface {
	SetQos(prefetchCount int) error
	Consume(queue, consumerTag string) (<-chan amqp.Delivery, error)
}

// Requeuer republishes a job that goes back to queued
type Requeuer interface {
	Enqueue(ctx context.Context, msg *domain.JobMessage) error
}

// Notifier ships job updates towards live viewers
type Notifier interface {
	Notify(ctx context.Context, update domain.JobUpdate)
}

// Config holds worker configuration
type Config struct {
	Logger            *slog.Logger
	Store             Store
	Broker            Broker
	Requeuer          Requeuer
	Notifier          Notifier
	Executors         map[domain.FeatureType]Executor
	WorkerID          string
	QueueName         string
	Concurrency       int
	MaxJobs           int
	PrefetchCount     int
	JobTimeout        time.Duration
	HeartbeatInterval time.Duration
	ProgressInterval  time.Duration
	ShutdownTimeout   time.Duration
	RedeliveryDelay   time.Duration // pause before a transient failure is nacked back to the queue
}

// job pairs a parsed message with the delivery it must settle
type job struct {
	msg      *domain.JobMessage
	delivery amqp.Delivery
}

// Worker represents the background job worker
type Worker struct {
	logger            *slog.Logger
	store             Store
	broker            Broker
	requeuer          Requeuer
	notifier          Notifier
	executors         map[domain.FeatureType]Executor
	workerID          string
	queueName         string
	concurrency       int
	prefetchCount     int
	jobTimeout        time.Duration
	heartbeatInterval time.Duration
	progressInterval  time.Duration
	shutdownTimeout   time.Duration
	redeliveryDelay   time.Duration
	now               func() time.Time

	jobsChan chan *job
	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	maxJobs := cfg.MaxJobs
	if maxJobs < concurrency {
		maxJobs = concurrency
	}
	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = concurrency
	}
	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	progress := cfg.ProgressInterval
	if progress <= 0 {
		progress = time.Second
	}
	redelivery := cfg.RedeliveryDelay
	if redelivery <= 0 {
		redelivery = time.Second
	}
	executors := cfg.Executors
	if executors == nil {
		executors = DefaultExecutors(0)
	}

	return &Worker{
		logger:            cfg.Logger.With(slog.String("worker_id", cfg.WorkerID)),
		store:             cfg.Store,
		broker:            cfg.Broker,
		requeuer:          cfg.Requeuer,
		notifier:          cfg.Notifier,
		executors:         executors,
		workerID:          cfg.WorkerID,
		queueName:         cfg.QueueName,
		concurrency:       concurrency,
		prefetchCount:     prefetch,
		jobTimeout:        cfg.JobTimeout,
		heartbeatInterval: heartbeat,
		progressInterval:  progress,
		shutdownTimeout:   cfg.ShutdownTimeout,
		redeliveryDelay:   redelivery,
		now:               time.Now,
		jobsChan:          make(chan *job, maxJobs),
		stopChan:          make(chan struct{}),
	}
}

// Start begins processing jobs and blocks until ctx is canceled
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	deliveries, err := w.setupConsumer(ctx)
	if err != nil {
		return err
	}

	w.spawnWorkerPool(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.startMessageDispatcher(ctx, deliveries)
	}()

	<-ctx.Done()
	w.logger.Info("Worker context canceled, stopping...")

	return nil
}

// Stop signals every goroutine to finish its current job and waits up to the
// shutdown timeout for them
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopChan) })

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	if w.shutdownTimeout <= 0 {
		<-done
		w.logger.Info("Worker stopped")
		return
	}

	select {
	case <-done:
		w.logger.Info("Worker stopped")
	case <-time.After(w.shutdownTimeout):
		w.logger.Warn("Worker shutdown timed out, in-flight jobs are left to the reaper",
			slog.Duration("timeout", w.shutdownTimeout),
		)
	}
}
