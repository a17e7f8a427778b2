// Package config loads application configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`
	AppURL    string `env:"APP_URL" default:"http://localhost:8080"`
	RedisURL  string `env:"REDIS_URL" default:"redis://localhost:6379"`

	// Connection registry limits
	MaxConnections        int           `env:"MAX_CONNECTIONS" default:"1000"`
	MaxConnectionsPerAddr int           `env:"MAX_CONNECTIONS_PER_ADDR" default:"10"`
	MessageRateLimit      int           `env:"MESSAGE_RATE_LIMIT" default:"100"`
	ConnectionIdleTimeout time.Duration `env:"CONNECTION_IDLE_TIMEOUT" default:"300s"`
	CleanupInterval       time.Duration `env:"CLEANUP_INTERVAL" default:"60s"`
	SessionTimeout        time.Duration `env:"SESSION_TIMEOUT" default:"3600s"`

	// Broadcast engine
	BroadcastRateLimit  int           `env:"BROADCAST_RATE_LIMIT" default:"100"`
	BroadcastQueueSize  int           `env:"BROADCAST_QUEUE_SIZE" default:"1000"`
	MaxDeliveryAttempts int           `env:"MAX_DELIVERY_ATTEMPTS" default:"3"`
	BaseRetryDelay      time.Duration `env:"BASE_RETRY_DELAY" default:"1s"`
	BroadcastRetention  time.Duration `env:"BROADCAST_RETENTION" default:"1h"`
	ReaperInterval      time.Duration `env:"REAPER_INTERVAL" default:"5m"`

	// Status monitor
	HealthCheckInterval     time.Duration `env:"HEALTH_CHECK_INTERVAL" default:"30s"`
	MetricsInterval         time.Duration `env:"METRICS_INTERVAL" default:"10s"`
	StatusBroadcastInterval time.Duration `env:"STATUS_BROADCAST_INTERVAL" default:"60s"`

	// Optional AI producer backend (disabled when empty)
	AIServiceURL string `env:"AI_SERVICE_URL"`
	AIServiceKey string `env:"AI_SERVICE_KEY"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.MaxConnections <= 0 {
		return fmt.Errorf("MAX_CONNECTIONS must be positive, got %d", cfg.MaxConnections)
	}
	if cfg.MaxConnectionsPerAddr <= 0 {
		return fmt.Errorf("MAX_CONNECTIONS_PER_ADDR must be positive, got %d", cfg.MaxConnectionsPerAddr)
	}
	if cfg.MaxDeliveryAttempts < 1 {
		return fmt.Errorf("MAX_DELIVERY_ATTEMPTS must be at least 1, got %d", cfg.MaxDeliveryAttempts)
	}
	if cfg.BaseRetryDelay <= 0 {
		return fmt.Errorf("BASE_RETRY_DELAY must be positive, got %s", cfg.BaseRetryDelay)
	}
	if cfg.AIServiceKey != "" && cfg.AIServiceURL == "" {
		return fmt.Errorf("AI_SERVICE_URL is required when AI_SERVICE_KEY is set")
	}
	return nil
}
