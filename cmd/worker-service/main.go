package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/cuongbtq/jobpulse/internal/bootstrap"
	"github.com/cuongbtq/jobpulse/internal/config"
	"github.com/cuongbtq/jobpulse/internal/metrics"
	"github.com/cuongbtq/jobpulse/internal/notify"
	"github.com/cuongbtq/jobpulse/internal/queue"
	"github.com/cuongbtq/jobpulse/internal/storage"
	"github.com/cuongbtq/jobpulse/internal/worker"
)

// stepDelay paces the simulated executors
const stepDelay = time.Second

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.InitLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	dbClient, err := bootstrap.InitPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	appLogger.Info("Database connection established")

	rabbitClient, err := bootstrap.InitRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	appLogger.Info("RabbitMQ connection established")

	if cfg.Metrics.Enabled {
		metrics.MustRegister()
	}

	workerInstance := worker.NewWorker(&worker.Config{
		Logger:            appLogger.Component("worker"),
		Store:             storage.NewStorage(dbClient, appLogger.Component("storage")),
		Broker:            rabbitClient,
		Requeuer:          queue.New(rabbitClient, cfg.RabbitMQ.RoutingKey),
		Notifier:          notify.NewPublisher(rabbitClient, cfg.RabbitMQ.Events.RoutingKey, appLogger.Component("publisher")),
		Executors:         worker.DefaultExecutors(stepDelay),
		WorkerID:          workerID(),
		QueueName:         cfg.RabbitMQ.Queue.Name,
		Concurrency:       cfg.Worker.Concurrency,
		MaxJobs:           cfg.Worker.MaxJobs,
		PrefetchCount:     cfg.RabbitMQ.Consumer.PrefetchCount,
		JobTimeout:        cfg.Worker.JobTimeout,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		ProgressInterval:  cfg.Worker.ProgressInterval,
		ShutdownTimeout:   cfg.Worker.ShutdownTimeout,
		RedeliveryDelay:   cfg.Worker.RedeliveryDelay,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		if err := workerInstance.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	appLogger.Info("Worker service started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Worker error",
			slog.Any("error", err),
		)
		return err
	case amqpErr := <-rabbitClient.NotifyClose():
		appLogger.Error("RabbitMQ connection lost",
			slog.Any("error", amqpErr),
		)
		return fmt.Errorf("rabbitmq connection lost: %v", amqpErr)
	}

	// Interrupted jobs stay processing and are recovered by the next sweep
	cancel()
	workerInstance.Stop()

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// workerID names this process in logs and consumer tags
func workerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}
