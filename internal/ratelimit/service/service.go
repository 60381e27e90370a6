// Package service implements CheckRateLimit: the per-identifier attempt limiter
// used by login and other sensitive endpoints.
//
// Callers follow a fixed order: CheckAllowed before the guarded operation,
// RecordAttempt only when it fails, Reset only when it succeeds.
package service

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"cmsguard/internal/lockout"
	"cmsguard/internal/ratelimit/metrics"
	"cmsguard/internal/ratelimit/models"
	"cmsguard/internal/ratelimit/ports"
	dErrors "cmsguard/pkg/domain-errors"
	"cmsguard/pkg/platform/audit"
	"cmsguard/pkg/requestcontext"
)

var tracer = otel.Tracer("cmsguard/internal/ratelimit/service")

type Service struct {
	store          Store
	auditPublisher AuditPublisher
	logger         *slog.Logger
	metrics        *metrics.Metrics
	policy         lockout.Policy
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

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithPolicy overrides the default 5 attempts / 15 minutes / 15 minute lock.
func WithPolicy(p lockout.Policy) Option {
	return func(s *Service) {
		s.policy = p.Normalize()
	}
}

func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("rate limit store is required")
	}

	svc := &Service{
		store:  store,
		policy: lockout.DefaultPolicy(),
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(svc)
	}

	return svc, nil
}

// Policy returns the active lockout policy.
func (s *Service) Policy() lockout.Policy {
	return s.policy
}

// CheckAllowed returns nil when identifier may attempt the guarded operation and
// *RateLimitExceededError while it is locked. It never counts an attempt.
//
// RetryAfterMinutes on the error is the policy lock length; RetryAfter carries
// the exact time left on the lock.
func (s *Service) CheckAllowed(ctx context.Context, identifier string) error {
	ctx, span := tracer.Start(ctx, "ratelimit.CheckAllowed", trace.WithAttributes(
		attribute.String("ratelimit.action", models.ActionOf(identifier)),
	))
	defer span.End()

	record, err := s.store.Get(ctx, identifier)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load rate limit")
	}
	if record == nil {
		return nil
	}

	now := requestcontext.Now(ctx)

	refreshed, changed := record.Refresh(s.policy, now)
	if changed {
		s.persistRefresh(ctx, refreshed)
	}

	if refreshed.IsLocked(now) {
		return s.exceeded(ctx, refreshed)
	}

	if refreshed.IsLimitExceeded(s.policy) {
		// A counter can reach the limit without a lock when it was written
		// through Save; lock it now.
		refreshed.Lock(s.policy, now)
		if err := s.store.Save(ctx, refreshed); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to lock rate limit")
		}
		s.onLocked(ctx, refreshed)
		return s.exceeded(ctx, refreshed)
	}

	return nil
}

// RecordAttempt counts one failed attempt atomically in the store and locks the
// identifier when the count reaches the policy maximum.
func (s *Service) RecordAttempt(ctx context.Context, identifier string) (*models.RateLimit, error) {
	if identifier == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "identifier is required")
	}

	now := requestcontext.Now(ctx)
	record, lockedNow, err := s.store.RecordAttempt(ctx, identifier, now, s.policy)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record rate limit attempt")
	}

	if s.metrics != nil {
		s.metrics.IncrementAttempts(models.ActionOf(identifier))
	}
	if lockedNow {
		s.onLocked(ctx, record)
	}
	return record, nil
}

// GetStatus is a read-only projection; it never writes.
func (s *Service) GetStatus(ctx context.Context, identifier string) (models.Status, error) {
	record, err := s.store.Get(ctx, identifier)
	if err != nil {
		return models.Status{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load rate limit")
	}
	return models.StatusOf(identifier, record, s.policy, requestcontext.Now(ctx)), nil
}

// Reset returns identifier to the Fresh state.
func (s *Service) Reset(ctx context.Context, identifier string) error {
	if err := s.store.Delete(ctx, identifier); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to reset rate limit")
	}
	return nil
}

// AdminReset is Reset with an audit trail, for operator-initiated unlocks.
func (s *Service) AdminReset(ctx context.Context, identifier string) error {
	if err := s.Reset(ctx, identifier); err != nil {
		return err
	}
	ports.LogAudit(ctx, s.logger, s.auditPublisher, audit.ActionRateLimitReset,
		"identifier", identifier,
	)
	return nil
}

// Cleanup deletes records that carry no active lock and whose window has passed.
func (s *Service) Cleanup(ctx context.Context) (int, error) {
	now := requestcontext.Now(ctx)
	deleted, err := s.store.DeleteStale(ctx, now, now.Add(-s.policy.Window))
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete stale rate limits")
	}
	if s.metrics != nil {
		s.metrics.AddStaleDeleted(deleted)
	}
	return deleted, nil
}

func (s *Service) exceeded(ctx context.Context, record *models.RateLimit) error {
	now := requestcontext.Now(ctx)
	if s.metrics != nil {
		s.metrics.IncrementRejected(models.ActionOf(record.Identifier))
	}
	return &RateLimitExceededError{
		Identifier:        record.Identifier,
		RetryAfterMinutes: int(s.policy.LockDuration.Minutes()),
		RetryAfter:        lockout.RemainingLock(record.Counter, now),
	}
}

func (s *Service) onLocked(ctx context.Context, record *models.RateLimit) {
	if s.metrics != nil {
		s.metrics.IncrementLockouts(models.ActionOf(record.Identifier))
	}
	ports.LogAudit(ctx, s.logger, s.auditPublisher, audit.ActionRateLimitLocked,
		"identifier", record.Identifier,
		"attempts", record.Attempts(),
		"locked_until", record.LockedUntil(),
	)
}

// persistRefresh writes back an evaluated record. Reads stay correct without it,
// so a failure is only logged.
func (s *Service) persistRefresh(ctx context.Context, record *models.RateLimit) {
	if err := s.store.Save(ctx, record); err != nil {
		s.logger.WarnContext(ctx, "failed to persist refreshed rate limit",
			"identifier", record.Identifier,
			"error", err,
		)
	}
}
