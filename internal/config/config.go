package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Redis     RedisConfig     `yaml:"redis"`
	Logging   LoggingConfig   `yaml:"logging"`
	App       AppConfig       `yaml:"app"`
	Worker    WorkerConfig    `yaml:"worker"`
	Reaper    ReaperConfig    `yaml:"reaper"`
	Stream    StreamConfig    `yaml:"stream"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Events     EventsConfig     `yaml:"events"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// EventsConfig holds the queue that carries job updates from workers to the API
type EventsConfig struct {
	Queue      QueueConfig `yaml:"queue"`
	RoutingKey string      `yaml:"routing_key"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int  `yaml:"prefetch_count"`
	AutoAck       bool `yaml:"auto_ack"`
	Exclusive     bool `yaml:"exclusive"`
}

// RedisConfig holds Redis connection settings for the rate limiter
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level            string `yaml:"level"`
	Format           string `yaml:"format"`
	Output           string `yaml:"output"`
	EnableCaller     bool   `yaml:"enable_caller"`
	EnableStackTrace bool   `yaml:"enable_stack_trace"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	Concurrency       int           `yaml:"concurrency"`
	MaxJobs           int           `yaml:"max_jobs"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	ProgressInterval  time.Duration `yaml:"progress_interval"`
	RedeliveryDelay   time.Duration `yaml:"redelivery_delay"`
}

// ReaperConfig holds stall detection settings
type ReaperConfig struct {
	Secret      string         `yaml:"secret"`
	Schedule    string         `yaml:"schedule"`
	BatchSize   int            `yaml:"batch_size"`
	StepTimeout time.Duration  `yaml:"step_timeout"`
	Families    []FamilyConfig `yaml:"families"`
}

// FamilyConfig is the retry/timeout policy shared by a group of feature types
type FamilyConfig struct {
	Name         string        `yaml:"name"`
	FeatureTypes []string      `yaml:"feature_types"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	BatchSize    int           `yaml:"batch_size"`
	AgeFrom      string        `yaml:"age_from"`
}

// StreamConfig holds live update channel settings
type StreamConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	SendTimeout       time.Duration `yaml:"send_timeout"`
	BufferSize        int           `yaml:"buffer_size"`
}

// RateLimitConfig holds per-tier submission limits
type RateLimitConfig struct {
	Enabled     bool                      `yaml:"enabled"`
	Window      time.Duration             `yaml:"window"`
	DefaultTier string                    `yaml:"default_tier"`
	Tiers       map[string]map[string]int `yaml:"tiers"`
	Priorities  map[string]int            `yaml:"priorities"`
}

// MetricsConfig holds Prometheus exposition settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Reaper.BatchSize <= 0 {
		c.Reaper.BatchSize = 500
	}
	if c.Reaper.StepTimeout <= 0 {
		c.Reaper.StepTimeout = 10 * time.Second
	}
	for i := range c.Reaper.Families {
		f := &c.Reaper.Families[i]
		if f.BatchSize <= 0 {
			f.BatchSize = c.Reaper.BatchSize
		}
		if f.AgeFrom == "" {
			f.AgeFrom = "last_attempt"
		}
	}
	if c.Stream.HeartbeatInterval <= 0 {
		c.Stream.HeartbeatInterval = 30 * time.Second
	}
	if c.Stream.SendTimeout <= 0 {
		c.Stream.SendTimeout = 250 * time.Millisecond
	}
	if c.Stream.BufferSize <= 0 {
		c.Stream.BufferSize = 32
	}
	if c.RateLimit.Window <= 0 {
		c.RateLimit.Window = time.Hour
	}
	if c.RateLimit.DefaultTier == "" {
		c.RateLimit.DefaultTier = "free"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Worker.ProgressInterval <= 0 {
		c.Worker.ProgressInterval = time.Second
	}
}

// Validate checks the settings shared by both services
func (c *Config) Validate() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	return c.validateBackends()
}

func (c *Config) validateBackends() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	return nil
}

// ValidateAPIConfig checks the settings only the API service needs
func (c *Config) ValidateAPIConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.RabbitMQ.Events.Queue.Name == "" {
		return fmt.Errorf("rabbitmq events queue name is required")
	}

	if c.Reaper.Secret == "" {
		return fmt.Errorf("reaper secret is required")
	}

	if len(c.Reaper.Families) == 0 {
		return fmt.Errorf("at least one reaper family is required")
	}

	seen := make(map[string]string)
	for _, f := range c.Reaper.Families {
		if f.Name == "" {
			return fmt.Errorf("reaper family name is required")
		}
		if len(f.FeatureTypes) == 0 {
			return fmt.Errorf("reaper family %s must list feature types", f.Name)
		}
		if f.Timeout <= 0 {
			return fmt.Errorf("reaper family %s timeout must be greater than 0", f.Name)
		}
		if f.MaxRetries < 0 {
			return fmt.Errorf("reaper family %s max_retries must not be negative", f.Name)
		}
		if f.AgeFrom != "last_attempt" && f.AgeFrom != "created" {
			return fmt.Errorf("reaper family %s age_from must be last_attempt or created", f.Name)
		}
		for _, ft := range f.FeatureTypes {
			if other, ok := seen[ft]; ok {
				return fmt.Errorf("feature type %s is covered by both %s and %s", ft, other, f.Name)
			}
			seen[ft] = f.Name
		}
	}

	if c.RateLimit.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required when rate limiting is enabled")
	}

	return nil
}

// ValidateWorkerConfig checks the settings only the worker service needs
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateBackends(); err != nil {
		return err
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.MaxJobs <= 0 {
		return fmt.Errorf("worker max_jobs must be greater than 0")
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	if c.Worker.HeartbeatInterval <= 0 {
		return fmt.Errorf("worker heartbeat_interval must be greater than 0")
	}

	// the heartbeat keeps last_attempt_at fresh, so it must beat the sweep
	for _, f := range c.Reaper.Families {
		if f.Timeout > 0 && c.Worker.HeartbeatInterval >= f.Timeout {
			return fmt.Errorf("worker heartbeat_interval must be shorter than the %s family timeout", f.Name)
		}
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	return nil
}

// MaxRetriesFor returns the retry budget of the family covering featureType
func (c *Config) MaxRetriesFor(featureType string) int {
	for _, f := range c.Reaper.Families {
		for _, ft := range f.FeatureTypes {
			if ft == featureType {
				return f.MaxRetries
			}
		}
	}
	return 3
}
