// Package bootstrap turns loaded configuration into the shared clients both
// services start with.
package bootstrap

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/jobpulse/internal/config"
	"github.com/cuongbtq/jobpulse/shared/logger"
	"github.com/cuongbtq/jobpulse/shared/postgresql"
	"github.com/cuongbtq/jobpulse/shared/rabbitmq"
	"github.com/cuongbtq/jobpulse/shared/redis"
)

// InitLogger initializes and configures the application logger
func InitLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(LoggerConfig(cfg))
}

// LoggerConfig maps logging settings onto the logger package
func LoggerConfig(cfg *config.LoggingConfig) *logger.Config {
	return &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}
}

// InitPostgreSQL initializes the PostgreSQL database client
func InitPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	return postgresql.NewClient(PostgreSQLConfig(cfg), logger)
}

// PostgreSQLConfig maps database settings onto the postgresql package
func PostgreSQLConfig(cfg *config.DatabaseConfig) *postgresql.Config {
	return &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}
}

// InitRabbitMQ initializes the RabbitMQ client with the jobs and events queues declared
func InitRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(RabbitMQConfig(cfg), logger)
}

// RabbitMQConfig maps broker settings onto the rabbitmq package. Both services
// declare both queues so neither depends on the other starting first.
func RabbitMQConfig(cfg *config.RabbitMQConfig) *rabbitmq.Config {
	bindings := []rabbitmq.Binding{{
		QueueName:       cfg.Queue.Name,
		QueueDurable:    cfg.Queue.Durable,
		QueueAutoDelete: cfg.Queue.AutoDelete,
		QueueExclusive:  cfg.Queue.Exclusive,
		RoutingKey:      cfg.RoutingKey,
	}}
	if cfg.Events.Queue.Name != "" {
		bindings = append(bindings, rabbitmq.Binding{
			QueueName:       cfg.Events.Queue.Name,
			QueueDurable:    cfg.Events.Queue.Durable,
			QueueAutoDelete: cfg.Events.Queue.AutoDelete,
			QueueExclusive:  cfg.Events.Queue.Exclusive,
			RoutingKey:      cfg.Events.RoutingKey,
		})
	}

	return &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		Bindings:           bindings,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}
}

// InitRedis connects the rate limiter's counter store
func InitRedis(ctx context.Context, cfg *config.RedisConfig, logger *slog.Logger) (redis.Client, error) {
	return redis.NewClient(ctx, &redis.Config{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}, logger)
}
