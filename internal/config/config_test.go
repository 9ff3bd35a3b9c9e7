package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				// Verify some key fields are populated
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, 5432, cfg.Database.Port)
				assert.Equal(t, "jobs_db", cfg.Database.Database)
				assert.Equal(t, "jobs_exchange", cfg.RabbitMQ.Exchange.Name)
				assert.Equal(t, "jobs_queue", cfg.RabbitMQ.Queue.Name)
				assert.Equal(t, "jobpulse-api", cfg.App.Name)
				assert.Equal(t, "job_events_queue", cfg.RabbitMQ.Events.Queue.Name)
				require.Len(t, cfg.Reaper.Families, 2)
				assert.Equal(t, 5*time.Minute, cfg.Reaper.Families[0].Timeout)
				assert.Equal(t, 200*time.Millisecond, cfg.Stream.SendTimeout)
			}
		})
	}
}

func validBaseConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "jobs_db",
		},
		RabbitMQ: RabbitMQConfig{
			Host:     "localhost",
			Port:     5672,
			Exchange: ExchangeConfig{Name: "jobs_exchange"},
			Queue:    QueueConfig{Name: "jobs_queue"},
		},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantErr   bool
		errString string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:      "invalid server port - too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "invalid server port - too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "empty database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			wantErr:   true,
			errString: "database host is required",
		},
		{
			name:      "empty database name",
			mutate:    func(c *Config) { c.Database.Database = "" },
			wantErr:   true,
			errString: "database name is required",
		},
		{
			name:      "empty rabbitmq host",
			mutate:    func(c *Config) { c.RabbitMQ.Host = "" },
			wantErr:   true,
			errString: "rabbitmq host is required",
		},
		{
			name:      "empty exchange name",
			mutate:    func(c *Config) { c.RabbitMQ.Exchange.Name = "" },
			wantErr:   true,
			errString: "rabbitmq exchange name is required",
		},
		{
			name:      "empty queue name",
			mutate:    func(c *Config) { c.RabbitMQ.Queue.Name = "" },
			wantErr:   true,
			errString: "rabbitmq queue name is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validBaseConfig()
			tt.mutate(cfg)

			err := cfg.Validate()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLoad_ValidateIntegration(t *testing.T) {
	t.Run("load and validate valid config", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.Validate()
		require.NoError(t, err)
	})

	t.Run("load config with invalid port", func(t *testing.T) {
		cfg, err := Load("testdata/invalid_port.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server port")
	})

	t.Run("load config with missing database", func(t *testing.T) {
		cfg, err := Load("testdata/missing_database.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database name is required")
	})
}

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)

	ai := cfg.Reaper.Families[0]
	assert.Equal(t, 500, ai.BatchSize)
	assert.Equal(t, "last_attempt", ai.AgeFrom)

	transcription := cfg.Reaper.Families[1]
	assert.Equal(t, 100, transcription.BatchSize)
	assert.Equal(t, "created", transcription.AgeFrom)
	assert.Equal(t, 30*time.Minute, transcription.Timeout)

	assert.Equal(t, 10*time.Second, cfg.Reaper.StepTimeout)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:      "missing secret",
			mutate:    func(c *Config) { c.Reaper.Secret = "" },
			errString: "reaper secret is required",
		},
		{
			name:      "no families",
			mutate:    func(c *Config) { c.Reaper.Families = nil },
			errString: "at least one reaper family is required",
		},
		{
			name:      "zero timeout",
			mutate:    func(c *Config) { c.Reaper.Families[0].Timeout = 0 },
			errString: "timeout must be greater than 0",
		},
		{
			name:      "bad age_from",
			mutate:    func(c *Config) { c.Reaper.Families[1].AgeFrom = "heartbeat" },
			errString: "age_from must be last_attempt or created",
		},
		{
			name: "feature in two families",
			mutate: func(c *Config) {
				c.Reaper.Families[1].FeatureTypes = append(c.Reaper.Families[1].FeatureTypes, "summarization")
			},
			errString: "covered by both ai and transcription",
		},
		{
			name:      "missing events queue",
			mutate:    func(c *Config) { c.RabbitMQ.Events.Queue.Name = "" },
			errString: "rabbitmq events queue name is required",
		},
		{
			name:      "rate limit without redis",
			mutate:    func(c *Config) { c.Redis.Addr = "" },
			errString: "redis addr is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()
			if tt.errString == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}

func TestConfig_ValidateWorkerConfig(t *testing.T) {
	cfg, err := Load("testdata/valid_worker_config.yaml")
	require.NoError(t, err)
	require.NoError(t, cfg.ValidateWorkerConfig())

	cfg.Worker.Concurrency = 0
	err = cfg.ValidateWorkerConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker concurrency must be greater than 0")
}

func TestConfig_ValidateWorkerConfig_HeartbeatBeatsFamilyTimeout(t *testing.T) {
	cfg, err := Load("testdata/valid_worker_config.yaml")
	require.NoError(t, err)

	cfg.Reaper.Families = []FamilyConfig{{Name: "ai", FeatureTypes: []string{"summarization"}, Timeout: 5 * time.Minute}}
	require.NoError(t, cfg.ValidateWorkerConfig())

	cfg.Worker.HeartbeatInterval = 5 * time.Minute
	err = cfg.ValidateWorkerConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shorter than the ai family timeout")
}

func TestConfig_MaxRetriesFor(t *testing.T) {
	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.MaxRetriesFor("summarization"))
	assert.Equal(t, 2, cfg.MaxRetriesFor("transcription"))
	assert.Equal(t, 3, cfg.MaxRetriesFor("unknown"))
}
