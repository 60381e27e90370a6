package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"cmsguard/internal/lockout"
	strutil "cmsguard/pkg/platform/strings"
)

// Server captures process level configuration.
type Server struct {
	Addr          string
	LogLevel      slog.Level
	AdminAPIToken string
	SecureCookies bool

	DatabaseURL string
	Redis       RedisConfig
	Kafka       KafkaConfig

	Auth      AuthConfig
	RateLimit RateLimitConfig
	Audit     AuditConfig
	Bootstrap BootstrapAdmin

	CleanupInterval time.Duration
}

// RedisConfig is empty when Redis is not configured.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type AuthConfig struct {
	SessionTTL      time.Duration
	VerificationTTL time.Duration
	AccountLockout  lockout.Policy
	ResetOnSuccess  bool
	BcryptCost      int

	// DeviceFingerprinting flags sessions presented from a different browser
	// or OS than the one that logged in.
	DeviceFingerprinting bool
}

type RateLimitConfig struct {
	Policy   lockout.Policy
	Disabled bool
}

type AuditConfig struct {
	AsyncBuffer int
	Retention   time.Duration
}

// BootstrapAdmin creates the first administrator on startup when Username is set.
type BootstrapAdmin struct {
	Username string
	Email    string
	Password string
}

// FromEnv builds a Server config from environment variables so main stays lean.
// All malformed values are reported together.
func FromEnv() (Server, error) {
	e := &env{lookup: os.Getenv}
	defaults := lockout.DefaultPolicy()

	cfg := Server{
		Addr:          e.str("CMSGUARD_ADDR", ":8080"),
		LogLevel:      e.level("LOG_LEVEL", slog.LevelInfo),
		AdminAPIToken: e.str("ADMIN_API_TOKEN", ""),
		SecureCookies: e.bool("SECURE_COOKIES", true),
		DatabaseURL:   e.str("DATABASE_URL", ""),
		Redis: RedisConfig{
			URL:          e.str("REDIS_URL", ""),
			PoolSize:     e.int("REDIS_POOL_SIZE", 10),
			MinIdleConns: e.int("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  e.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  e.duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: e.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers: e.list("KAFKA_BROKERS"),
			Topic:   e.str("KAFKA_AUDIT_TOPIC", "cmsguard.audit"),
		},
		Auth: AuthConfig{
			SessionTTL:      e.duration("SESSION_TTL", 24*time.Hour),
			VerificationTTL: e.duration("EMAIL_VERIFICATION_TTL", 24*time.Hour),
			AccountLockout: lockout.Policy{
				MaxAttempts:  e.int("ACCOUNT_LOCKOUT_MAX_ATTEMPTS", defaults.MaxAttempts),
				Window:       e.duration("ACCOUNT_LOCKOUT_WINDOW", defaults.Window),
				LockDuration: e.duration("ACCOUNT_LOCKOUT_DURATION", defaults.LockDuration),
			}.Normalize(),
			ResetOnSuccess:       e.bool("RESET_FAILED_ATTEMPTS_ON_SUCCESS", true),
			BcryptCost:           e.int("BCRYPT_COST", 12),
			DeviceFingerprinting: e.bool("DEVICE_FINGERPRINTING", true),
		},
		RateLimit: RateLimitConfig{
			Policy: lockout.Policy{
				MaxAttempts:  e.int("RATE_LIMIT_MAX_ATTEMPTS", defaults.MaxAttempts),
				Window:       e.duration("RATE_LIMIT_WINDOW", defaults.Window),
				LockDuration: e.duration("RATE_LIMIT_LOCK_DURATION", defaults.LockDuration),
			}.Normalize(),
			Disabled: e.bool("RATE_LIMIT_DISABLED", false),
		},
		Audit: AuditConfig{
			AsyncBuffer: e.int("AUDIT_ASYNC_BUFFER", 0),
			Retention:   e.duration("AUDIT_RETENTION", 365*24*time.Hour),
		},
		Bootstrap: BootstrapAdmin{
			Username: e.str("BOOTSTRAP_ADMIN_USERNAME", ""),
			Email:    e.str("BOOTSTRAP_ADMIN_EMAIL", ""),
			Password: e.str("BOOTSTRAP_ADMIN_PASSWORD", ""),
		},
		CleanupInterval: e.duration("CLEANUP_INTERVAL", 5*time.Minute),
	}

	if cfg.Bootstrap.Username != "" && cfg.Bootstrap.Password == "" {
		e.errs = append(e.errs, errors.New("BOOTSTRAP_ADMIN_PASSWORD is required with BOOTSTRAP_ADMIN_USERNAME"))
	}
	return cfg, errors.Join(e.errs...)
}

type env struct {
	lookup func(string) string
	errs   []error
}

func (e *env) str(key, def string) string {
	if v := strings.TrimSpace(e.lookup(key)); v != "" {
		return v
	}
	return def
}

func (e *env) int(key string, def int) int {
	raw := strings.TrimSpace(e.lookup(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return v
}

func (e *env) bool(key string, def bool) bool {
	raw := strings.TrimSpace(e.lookup(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return v
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(e.lookup(key))
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return v
}

func (e *env) level(key string, def slog.Level) slog.Level {
	raw := strings.TrimSpace(e.lookup(key))
	if raw == "" {
		return def
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(raw)); err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return lvl
}

func (e *env) list(key string) []string {
	return strutil.SplitCSV(e.lookup(key))
}
