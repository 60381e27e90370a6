package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, key := range []string{"CMSGUARD_ADDR", "LOG_LEVEL", "DATABASE_URL", "REDIS_URL", "KAFKA_BROKERS"} {
		t.Setenv(key, "")
	}

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Empty(t, cfg.Redis.URL)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, 24*time.Hour, cfg.Auth.SessionTTL)
	assert.True(t, cfg.Auth.ResetOnSuccess)
	assert.True(t, cfg.Auth.DeviceFingerprinting)
	assert.Equal(t, 5, cfg.RateLimit.Policy.MaxAttempts)
	assert.Equal(t, 15*time.Minute, cfg.RateLimit.Policy.Window)
	assert.Equal(t, 15*time.Minute, cfg.RateLimit.Policy.LockDuration)
	assert.Equal(t, 365*24*time.Hour, cfg.Audit.Retention)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("CMSGUARD_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("RATE_LIMIT_MAX_ATTEMPTS", "3")
	t.Setenv("RATE_LIMIT_LOCK_DURATION", "1h")
	t.Setenv("ACCOUNT_LOCKOUT_WINDOW", "30m")
	t.Setenv("RESET_FAILED_ATTEMPTS_ON_SUCCESS", "false")
	t.Setenv("RATE_LIMIT_DISABLED", "true")
	t.Setenv("DEVICE_FINGERPRINTING", "false")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 3, cfg.RateLimit.Policy.MaxAttempts)
	assert.Equal(t, time.Hour, cfg.RateLimit.Policy.LockDuration)
	assert.Equal(t, 30*time.Minute, cfg.Auth.AccountLockout.Window)
	assert.False(t, cfg.Auth.ResetOnSuccess)
	assert.True(t, cfg.RateLimit.Disabled)
	assert.False(t, cfg.Auth.DeviceFingerprinting)
}

func TestFromEnvReportsAllErrors(t *testing.T) {
	t.Setenv("SESSION_TTL", "one day")
	t.Setenv("BCRYPT_COST", "high")
	t.Setenv("BOOTSTRAP_ADMIN_USERNAME", "admin")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SESSION_TTL")
	assert.Contains(t, err.Error(), "BCRYPT_COST")
	assert.Contains(t, err.Error(), "BOOTSTRAP_ADMIN_PASSWORD")
}
