// Package service implements login, logout, session lookup, password changes
// and email verification for CMS accounts.
package service

import (
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"cmsguard/internal/auth/device"
	"cmsguard/internal/auth/metrics"
	"cmsguard/internal/auth/models"
	"cmsguard/internal/auth/password"
	"cmsguard/internal/lockout"
	"cmsguard/pkg/email"
	"cmsguard/pkg/platform/secure"
)

var tracer = otel.Tracer("cmsguard/internal/auth/service")

// dummyPassword is hashed once at startup so unknown usernames cost the same
// bcrypt comparison as known ones.
const dummyPassword = "cmsguard-timing-equalizer"

type Service struct {
	users          UserStore
	sessions       SessionStore
	hasher         Hasher
	auditPublisher AuditPublisher
	mailer         Mailer
	devices        *device.Service
	metrics        *metrics.Metrics
	logger         *slog.Logger
	random         secure.RandomSource
	passwordPolicy password.Policy
	lockoutPolicy  lockout.Policy
	sessionTTL     time.Duration
	tokenTTL       time.Duration
	resetOnSuccess bool
	dummyHash      string
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMailer(mailer Mailer) Option {
	return func(s *Service) {
		s.mailer = mailer
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithDeviceService(d *device.Service) Option {
	return func(s *Service) {
		s.devices = d
	}
}

// WithRandom replaces crypto/rand as the source for session, CSRF and
// verification tokens.
func WithRandom(random secure.RandomSource) Option {
	return func(s *Service) {
		s.random = random
	}
}

func WithPasswordPolicy(p password.Policy) Option {
	return func(s *Service) {
		s.passwordPolicy = p
	}
}

// WithLockoutPolicy sets the per-account failed login policy.
func WithLockoutPolicy(p lockout.Policy) Option {
	return func(s *Service) {
		s.lockoutPolicy = p.Normalize()
	}
}

func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
	}
}

func WithVerificationTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.tokenTTL = ttl
		}
	}
}

// WithResetOnSuccess controls whether a successful login clears the account's
// failed login counter. Enabled by default.
func WithResetOnSuccess(reset bool) Option {
	return func(s *Service) {
		s.resetOnSuccess = reset
	}
}

func New(users UserStore, sessions SessionStore, hasher Hasher, opts ...Option) (*Service, error) {
	if users == nil {
		return nil, errors.New("users store is required")
	}
	if sessions == nil {
		return nil, errors.New("sessions store is required")
	}
	if hasher == nil {
		return nil, errors.New("password hasher is required")
	}

	svc := &Service{
		users:          users,
		sessions:       sessions,
		hasher:         hasher,
		logger:         slog.Default(),
		random:         secure.DefaultRandom,
		devices:        device.NewService(true),
		passwordPolicy: password.DefaultPolicy(),
		lockoutPolicy:  lockout.DefaultPolicy(),
		sessionTTL:     models.DefaultSessionTTL,
		tokenTTL:       models.DefaultVerificationTTL,
		resetOnSuccess: true,
	}

	for _, opt := range opts {
		opt(svc)
	}

	if svc.mailer == nil {
		svc.mailer = email.NewLogSender(svc.logger)
	}

	dummyHash, err := hasher.Hash(dummyPassword)
	if err != nil {
		return nil, err
	}
	svc.dummyHash = dummyHash

	return svc, nil
}

// PasswordPolicy returns the policy enforced on new passwords.
func (s *Service) PasswordPolicy() password.Policy {
	return s.passwordPolicy
}
