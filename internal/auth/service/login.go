package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"cmsguard/internal/auth/device"
	authmetrics "cmsguard/internal/auth/metrics"
	"cmsguard/internal/auth/models"
	dErrors "cmsguard/pkg/domain-errors"
	"cmsguard/pkg/platform/audit"
	"cmsguard/pkg/platform/secure"
	"cmsguard/pkg/platform/sentinel"
	"cmsguard/pkg/requestcontext"
)

// Login verifies username and password and opens a session.
//
// The caller owns brute force accounting: it checks the client rate limit before
// calling, and on ErrInvalidCredentials records the attempt there and through
// RecordFailedLogin.
func (s *Service) Login(ctx context.Context, username, pw string) (*models.LoginResult, error) {
	ctx, span := tracer.Start(ctx, "auth.Login")
	defer span.End()
	start := time.Now()

	result, outcome, err := s.login(ctx, username, pw)
	if s.metrics != nil {
		s.metrics.ObserveLogin(outcome, float64(time.Since(start).Milliseconds()))
	}
	span.SetAttributes(attribute.String("auth.outcome", outcome))
	if err != nil && outcome == authmetrics.OutcomeError {
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

func (s *Service) login(ctx context.Context, username, pw string) (*models.LoginResult, string, error) {
	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.hasher.Compare(s.dummyHash, pw)
			return nil, authmetrics.OutcomeInvalidCredentials, ErrInvalidCredentials
		}
		return nil, authmetrics.OutcomeError, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user")
	}

	if !s.hasher.Compare(user.PasswordHash, pw) {
		return nil, authmetrics.OutcomeInvalidCredentials, ErrInvalidCredentials
	}

	if !user.IsActive {
		return nil, authmetrics.OutcomeInactive, ErrInactiveAccount
	}

	now := requestcontext.Now(ctx)
	if user.IsLockedAt(now) {
		return nil, authmetrics.OutcomeLocked, &AccountLockedError{LockedUntil: *user.LockedUntil()}
	}

	user.RecordLogin(now)
	if s.resetOnSuccess {
		user.ResetFailedAttempts(now)
	}
	if err := s.users.Update(ctx, user); err != nil {
		return nil, authmetrics.OutcomeError, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update user")
	}

	session, err := s.newSession(ctx, user, now)
	if err != nil {
		return nil, authmetrics.OutcomeError, err
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, authmetrics.OutcomeError, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create session")
	}
	if s.metrics != nil {
		s.metrics.IncrementSessionsCreated()
	}

	s.logAudit(ctx, audit.ActionLoginSucceeded, user.ID, audit.Entry{
		Details: map[string]any{"device": session.DeviceName},
	})

	return &models.LoginResult{
		User:      user,
		Token:     session.Token,
		CSRFToken: session.CSRFSecret,
		ExpiresAt: session.ExpiresAt,
	}, authmetrics.OutcomeSuccess, nil
}

func (s *Service) newSession(ctx context.Context, user *models.User, now time.Time) (*models.Session, error) {
	token, err := secure.Token(s.random)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate session token")
	}
	csrfSecret, err := secure.Token(s.random)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate csrf token")
	}

	userAgent := requestcontext.UserAgent(ctx)
	return &models.Session{
		Token:             token,
		UserID:            user.ID,
		CSRFSecret:        csrfSecret,
		IPAddress:         requestcontext.ClientIP(ctx),
		UserAgent:         userAgent,
		DeviceName:        device.ParseUserAgent(userAgent),
		DeviceFingerprint: s.devices.ComputeFingerprint(userAgent),
		CreatedAt:         now,
		ExpiresAt:         now.Add(s.sessionTTL),
	}, nil
}

// RecordFailedAttempt counts a failed login against user and locks the account
// once the policy maximum is reached.
func (s *Service) RecordFailedAttempt(ctx context.Context, user *models.User, ipAddress, userAgent string) (*models.FailedAttemptResult, error) {
	if user == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "user is required")
	}

	now := requestcontext.Now(ctx)
	lockedNow := user.RecordFailedLogin(s.lockoutPolicy, now)
	if err := s.users.Update(ctx, user); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record failed login")
	}

	locked := user.IsLockedAt(now)
	s.logAudit(ctx, audit.ActionLoginFailed, user.ID, audit.Entry{
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Details: map[string]any{
			"attempt": user.FailedLoginAttempts(),
			"locked":  locked,
		},
	})

	if lockedNow {
		if s.metrics != nil {
			s.metrics.IncrementAccountLockouts()
		}
		s.logAudit(ctx, audit.ActionAccountLocked, user.ID, audit.Entry{
			IPAddress: ipAddress,
			UserAgent: userAgent,
			Details: map[string]any{
				"attempts":     user.FailedLoginAttempts(),
				"locked_until": user.LockedUntil().UTC().Format(time.RFC3339),
			},
		})
	}

	result := &models.FailedAttemptResult{
		User:          user,
		AttemptsCount: user.FailedLoginAttempts(),
		IsLocked:      locked,
	}
	if locked {
		result.LockedUntil = user.LockedUntil()
	}
	return result, nil
}

// RecordFailedLogin resolves username and records a failed attempt. An unknown
// username is a no-op so callers can invoke it on every invalid login.
func (s *Service) RecordFailedLogin(ctx context.Context, username, ipAddress, userAgent string) (*models.FailedAttemptResult, error) {
	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user")
	}
	return s.RecordFailedAttempt(ctx, user, ipAddress, userAgent)
}

// Logout deletes the session behind token. It is idempotent.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	session, err := s.sessions.FindByToken(ctx, token)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		s.logger.WarnContext(ctx, "failed to load session before logout", "error", err)
	}

	if err := s.sessions.Delete(ctx, token); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete session")
	}

	if session != nil {
		if s.metrics != nil {
			s.metrics.AddSessionsRevoked(1)
		}
		s.logAudit(ctx, audit.ActionLogout, session.UserID, audit.Entry{})
	}
	return nil
}
