package bootstrap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/jobpulse/internal/config"
)

func TestRabbitMQConfig_Bindings(t *testing.T) {
	cfg, err := config.Load("../config/testdata/valid_config.yaml")
	require.NoError(t, err)

	rc := RabbitMQConfig(&cfg.RabbitMQ)
	require.NotEmpty(t, rc.Bindings)
	assert.Equal(t, cfg.RabbitMQ.Queue.Name, rc.Bindings[0].QueueName)
	assert.Equal(t, cfg.RabbitMQ.RoutingKey, rc.Bindings[0].RoutingKey)

	cfg.RabbitMQ.Events = config.EventsConfig{
		Queue:      config.QueueConfig{Name: "events", Durable: true},
		RoutingKey: "job.events",
	}
	rc = RabbitMQConfig(&cfg.RabbitMQ)
	require.Len(t, rc.Bindings, 2)
	assert.Equal(t, "events", rc.Bindings[1].QueueName)
	assert.Equal(t, "job.events", rc.Bindings[1].RoutingKey)
	assert.True(t, rc.Bindings[1].QueueDurable)
}

func TestPostgreSQLAndLoggerConfig(t *testing.T) {
	db := PostgreSQLConfig(&config.DatabaseConfig{
		Host:            "db",
		Port:            5432,
		Database:        "jobs",
		MaxOpenConns:    7,
		ConnMaxLifetime: time.Minute,
	})
	assert.Equal(t, "db", db.Host)
	assert.Equal(t, 7, db.MaxOpenConns)
	assert.Equal(t, time.Minute, db.ConnMaxLifetime)

	lc := LoggerConfig(&config.LoggingConfig{Level: "debug", Format: "json", EnableCaller: true})
	assert.Equal(t, "debug", lc.Level)
	assert.True(t, lc.EnableSource)
	assert.Equal(t, time.RFC3339, lc.TimeFormat)
}
