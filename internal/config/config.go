package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Retry strategies for the batch consumer
const (
	RetryInPlace = "in_place"
	RetryRequeue = "requeue"
)

// Queue backends
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

type Config struct {
	Server      ServerConfig
	Redis       RedisConfig
	Consumer    ConsumerConfig
	Idempotency IdempotencyConfig
	Dashboard   DashboardConfig
	Metrics     MetricsConfig

	QueueBackend  string `env:"QUEUE_BACKEND" env-default:"redis"`
	WebhookSecret string `env:"WEBHOOK_SECRET" env-default:""`
	LogLevel      string `env:"LOG_LEVEL" env-default:"info"`
}

type ServerConfig struct {
	Host string `env:"SERVER_HOST" env-default:"0.0.0.0"`
	Port string `env:"SERVER_PORT" env-default:"8080"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD" env-default:""`
	DB       int    `env:"REDIS_DB" env-default:"0"`
}

type ConsumerConfig struct {
	BatchSize           int    `env:"BATCH_SIZE" env-default:"10"`
	BatchTimeoutSeconds int    `env:"BATCH_TIMEOUT_SECONDS" env-default:"5"`
	MaxRetries          int    `env:"MAX_RETRIES" env-default:"3"`
	RetryDelaySeconds   int    `env:"RETRY_DELAY_SECONDS" env-default:"2"`
	RetryStrategy       string `env:"RETRY_STRATEGY" env-default:"in_place"`
	DryRun              bool   `env:"DRY_RUN" env-default:"false"`
}

type IdempotencyConfig struct {
	TTLHours int `env:"IDEMPOTENCY_TTL_HOURS" env-default:"24"`
}

type DashboardConfig struct {
	Enabled        bool   `env:"DASHBOARD_UPDATE_ENABLED" env-default:"false"`
	APIURL         string `env:"DASHBOARD_API_URL" env-default:"http://localhost:8000/api/metrics"`
	TimeoutSeconds int    `env:"DASHBOARD_TIMEOUT_SECONDS" env-default:"5"`
	Secret         string `env:"DASHBOARD_SECRET" env-default:""`
}

type MetricsConfig struct {
	Enabled bool   `env:"METRICS_ENABLED" env-default:"true"`
	Port    string `env:"METRICS_PORT" env-default:"9091"`
}

// Load reads configuration from the environment and validates it
func Load() (*Config, error) {
	cfg := &Config{}

	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Consumer.BatchSize < 1 {
		return fmt.Errorf("BATCH_SIZE must be >= 1, got %d", c.Consumer.BatchSize)
	}
	if c.Consumer.BatchTimeoutSeconds < 1 {
		return fmt.Errorf("BATCH_TIMEOUT_SECONDS must be >= 1, got %d", c.Consumer.BatchTimeoutSeconds)
	}
	if c.Consumer.MaxRetries < 1 {
		return fmt.Errorf("MAX_RETRIES must be >= 1, got %d", c.Consumer.MaxRetries)
	}
	if c.Consumer.RetryDelaySeconds < 0 {
		return fmt.Errorf("RETRY_DELAY_SECONDS must be >= 0, got %d", c.Consumer.RetryDelaySeconds)
	}
	if s := c.Consumer.RetryStrategy; s != RetryInPlace && s != RetryRequeue {
		return fmt.Errorf("RETRY_STRATEGY must be %q or %q, got %q", RetryInPlace, RetryRequeue, s)
	}
	if b := c.QueueBackend; b != BackendRedis && b != BackendMemory {
		return fmt.Errorf("QUEUE_BACKEND must be %q or %q, got %q", BackendRedis, BackendMemory, b)
	}
	if c.Idempotency.TTLHours < 1 {
		return fmt.Errorf("IDEMPOTENCY_TTL_HOURS must be >= 1, got %d", c.Idempotency.TTLHours)
	}
	return nil
}

// BatchTimeout returns the idle wait between empty claim attempts
func (c *ConsumerConfig) BatchTimeout() time.Duration {
	return time.Duration(c.BatchTimeoutSeconds) * time.Second
}

// RetryDelay returns the backoff delay before the given retry attempt.
// The delay grows linearly with the attempt number.
func (c *ConsumerConfig) RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(c.RetryDelaySeconds*attempt) * time.Second
}

// TTL returns the idempotency window as a duration
func (c *IdempotencyConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// Timeout returns the dashboard request timeout
func (c *DashboardConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
