package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/cuongbtq/jobpulse/internal/api/handler"
	"github.com/cuongbtq/jobpulse/internal/api/router"
	"github.com/cuongbtq/jobpulse/internal/bootstrap"
	"github.com/cuongbtq/jobpulse/internal/config"
	"github.com/cuongbtq/jobpulse/internal/metrics"
	"github.com/cuongbtq/jobpulse/internal/notify"
	"github.com/cuongbtq/jobpulse/internal/queue"
	"github.com/cuongbtq/jobpulse/internal/ratelimit"
	"github.com/cuongbtq/jobpulse/internal/reaper"
	"github.com/cuongbtq/jobpulse/internal/storage"
	"github.com/cuongbtq/jobpulse/shared/rabbitmq"
)

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

	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if secret := os.Getenv("REAPER_SECRET"); secret != "" {
		cfg.Reaper.Secret = secret
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.InitLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
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

	var counter ratelimit.Counter
	if cfg.RateLimit.Enabled {
		redisClient, err := bootstrap.InitRedis(context.Background(), &cfg.Redis, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize Redis: %w", err)
		}
		defer redisClient.Close()
		counter = redisClient
		appLogger.Info("Redis connection established")
	}

	if cfg.Metrics.Enabled {
		metrics.MustRegister()
	}

	store := storage.NewStorage(dbClient, appLogger.Component("storage"))
	jobQueue := queue.New(rabbitClient, cfg.RabbitMQ.RoutingKey)
	registry := notify.NewRegistry(cfg.Stream.SendTimeout, appLogger.Component("registry"))

	sweeper := reaper.New(&reaper.Config{
		Store:       store,
		Requeuer:    jobQueue,
		Notifier:    registry,
		Policies:    reaper.PoliciesFromConfig(&cfg.Reaper),
		StepTimeout: cfg.Reaper.StepTimeout,
		Logger:      appLogger.Component("reaper"),
	})

	var scheduler *reaper.Scheduler
	if cfg.Reaper.Schedule != "" {
		scheduler, err = reaper.NewScheduler(cfg.Reaper.Schedule, sweeper, appLogger.Component("scheduler"))
		if err != nil {
			return err
		}
		scheduler.Start()
	}

	relayCtx, stopRelay := context.WithCancel(context.Background())
	defer stopRelay()
	if err := startRelay(relayCtx, cfg, rabbitClient, registry, appLogger.Component("relay")); err != nil {
		return fmt.Errorf("failed to start event relay: %w", err)
	}

	deps := &handler.Dependencies{
		Logger:      appLogger.Logger,
		Jobs:        store,
		DeadLetters: store,
		Queue:       jobQueue,
		Limiter:     ratelimit.NewLimiter(counter, store, cfg.RateLimit, appLogger.Component("ratelimit")),
		Priority:    ratelimit.NewClassifier(store, cfg.RateLimit.DefaultTier, cfg.RateLimit.Priorities),
		Registry:    registry,
		Sweeper:     sweeper,
		SweepSecret: cfg.Reaper.Secret,
		MaxRetries:  cfg.MaxRetriesFor,
		Stream:      cfg.Stream,
		Now:         time.Now,
	}

	r := initRouter(cfg, deps)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Server failed to start",
				slog.Any("error", err),
			)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	if scheduler != nil {
		scheduler.Stop()
	}
	stopRelay()

	// Streams block until their conn is closed, so close the registry before
	// waiting on in-flight requests.
	registry.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// startRelay consumes job updates published by workers and fans them out to local viewers
func startRelay(ctx context.Context, cfg *config.Config, rabbit *rabbitmq.Client, registry *notify.Registry, logger *slog.Logger) error {
	tag := fmt.Sprintf("%s-relay-%s", cfg.App.Name, uuid.NewString()[:8])
	deliveries, err := rabbit.Consume(cfg.RabbitMQ.Events.Queue.Name, tag)
	if err != nil {
		return err
	}

	go notify.NewRelay(registry, logger).Run(ctx, deliveries)
	return nil
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, deps *handler.Dependencies) *gin.Engine {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	opts := router.Options{ServiceName: cfg.App.Name}
	if cfg.Metrics.Enabled {
		opts.MetricsPath = cfg.Metrics.Path
	}

	return router.SetupRouter(deps, opts)
}
