package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.AppEnv)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "redis://localhost:6379", cfg.RedisURL)
	assert.Equal(t, 1000, cfg.MaxConnections)
	assert.Equal(t, 10, cfg.MaxConnectionsPerAddr)
	assert.Equal(t, 3, cfg.MaxDeliveryAttempts)
	assert.Equal(t, time.Second, cfg.BaseRetryDelay)
	assert.Equal(t, time.Hour, cfg.BroadcastRetention)
	assert.Equal(t, 30*time.Second, cfg.HealthCheckInterval)
	assert.Empty(t, cfg.AIServiceURL)
}

func TestLoad_CustomValues(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("APP_ENV", "production")
	t.Setenv("MAX_CONNECTIONS", "50")
	t.Setenv("BASE_RETRY_DELAY", "250ms")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.AppEnv)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 50, cfg.MaxConnections)
	assert.Equal(t, 250*time.Millisecond, cfg.BaseRetryDelay)
}

func TestLoad_ValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		envKey  string
		value   string
		wantErr string
	}{
		{"zero max connections", "MAX_CONNECTIONS", "0", "MAX_CONNECTIONS must be positive"},
		{"negative per-address limit", "MAX_CONNECTIONS_PER_ADDR", "-1", "MAX_CONNECTIONS_PER_ADDR must be positive"},
		{"zero delivery attempts", "MAX_DELIVERY_ATTEMPTS", "0", "MAX_DELIVERY_ATTEMPTS must be at least 1"},
		{"zero retry delay", "BASE_RETRY_DELAY", "0s", "BASE_RETRY_DELAY must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.envKey, tt.value)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_AIKeyRequiresURL(t *testing.T) {
	t.Setenv("AI_SERVICE_KEY", "secret")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AI_SERVICE_URL is required")
}

func TestLoad_AIBackendConfigured(t *testing.T) {
	t.Setenv("AI_SERVICE_URL", "http://ai.internal:9000")
	t.Setenv("AI_SERVICE_KEY", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://ai.internal:9000", cfg.AIServiceURL)
	assert.Equal(t, "secret", cfg.AIServiceKey)
}
