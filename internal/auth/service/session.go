package service

import (
	"context"
	"errors"

	"cmsguard/internal/auth/device"
	"cmsguard/internal/auth/models"
	dErrors "cmsguard/pkg/domain-errors"
	"cmsguard/pkg/platform/audit"
	auth "cmsguard/pkg/platform/middleware/auth"
	"cmsguard/pkg/platform/sentinel"
	"cmsguard/pkg/requestcontext"
)

// Authenticate returns the live session for token. Expired sessions are deleted
// on sight.
func (s *Service) Authenticate(ctx context.Context, token string) (*models.Session, error) {
	if token == "" {
		return nil, ErrInvalidSession
	}

	session, err := s.sessions.FindByToken(ctx, token)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load session")
	}

	now := requestcontext.Now(ctx)
	if !session.IsValid(now) {
		if err := s.sessions.Delete(ctx, token); err != nil {
			s.logger.WarnContext(ctx, "failed to delete expired session", "error", err)
		}
		s.logAudit(ctx, audit.ActionSessionExpired, session.UserID, audit.Entry{})
		return nil, ErrInvalidSession
	}

	userAgent := requestcontext.UserAgent(ctx)
	current := s.devices.ComputeFingerprint(userAgent)
	if _, drift := s.devices.CompareFingerprints(session.DeviceFingerprint, current); drift {
		s.logger.WarnContext(ctx, "session used from a different device",
			"user_id", session.UserID.String(),
			"device", session.DeviceName,
		)
		s.logAudit(ctx, audit.ActionSessionDeviceChanged, session.UserID, audit.Entry{
			Details: map[string]any{
				"device":         session.DeviceName,
				"current_device": device.ParseUserAgent(userAgent),
			},
		})
	}

	return session, nil
}

// ResolveSession adapts Authenticate for the auth middleware.
func (s *Service) ResolveSession(ctx context.Context, token string) (*auth.Principal, error) {
	session, err := s.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	return &auth.Principal{
		UserID:     session.UserID,
		CSRFSecret: session.CSRFSecret,
	}, nil
}

// DeleteExpiredSessions removes sessions that expired before the request time.
func (s *Service) DeleteExpiredSessions(ctx context.Context) (int, error) {
	deleted, err := s.sessions.DeleteExpired(ctx, requestcontext.Now(ctx))
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete expired sessions")
	}
	if s.metrics != nil {
		s.metrics.AddSessionsRevoked(deleted)
	}
	return deleted, nil
}
