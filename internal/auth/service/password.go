package service

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"cmsguard/internal/auth/models"
	id "cmsguard/pkg/domain"
	dErrors "cmsguard/pkg/domain-errors"
	"cmsguard/pkg/platform/audit"
	"cmsguard/pkg/platform/sentinel"
	"cmsguard/pkg/requestcontext"
)

// ChangePassword replaces the password of userID after checking the current one
// and the policy. Every other session of the user is closed.
func (s *Service) ChangePassword(ctx context.Context, userID id.UserID, current, next string) error {
	ctx, span := tracer.Start(ctx, "auth.ChangePassword")
	defer span.End()

	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return err
	}

	if !s.hasher.Compare(user.PasswordHash, current) {
		return ErrInvalidCredentials
	}
	if err := s.passwordPolicy.Validate(next); err != nil {
		return err
	}
	if s.hasher.Compare(user.PasswordHash, next) {
		return ErrPasswordReuse
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash password")
	}

	now := requestcontext.Now(ctx)
	user.SetPassword(hash, now)
	if err := s.users.Update(ctx, user); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update user")
	}

	revoked, err := s.sessions.DeleteByUser(ctx, userID, requestcontext.SessionToken(ctx))
	if err != nil {
		// The password already changed; stale sessions still expire on their own.
		s.logger.ErrorContext(ctx, "failed to delete other sessions after password change",
			"error", err,
			"user_id", userID.String(),
		)
	}
	span.SetAttributes(attribute.Int("auth.sessions_revoked", revoked))

	if s.metrics != nil {
		s.metrics.IncrementPasswordsChanged()
		s.metrics.AddSessionsRevoked(revoked)
	}
	s.logAudit(ctx, audit.ActionPasswordChanged, userID, audit.Entry{
		Details: map[string]any{"sessions_revoked": revoked},
	})
	return nil
}

// CreateUser registers an account whose password satisfies the policy.
func (s *Service) CreateUser(ctx context.Context, username, emailAddr, pw string, role models.Role) (*models.User, error) {
	if err := s.passwordPolicy.Validate(pw); err != nil {
		return nil, err
	}
	hash, err := s.hasher.Hash(pw)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash password")
	}

	user, err := models.NewUser(username, emailAddr, hash, role, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	if err := s.users.Save(ctx, user); err != nil {
		switch {
		case errors.Is(err, models.ErrEmailTaken):
			return nil, dErrors.New(dErrors.CodeConflict, "email is already registered")
		case errors.Is(err, sentinel.ErrConflict):
			return nil, dErrors.New(dErrors.CodeConflict, "username is already taken")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save user")
	}

	s.logAudit(ctx, audit.ActionUserCreated, requestcontext.UserID(ctx), audit.Entry{
		TargetType: "user",
		TargetID:   user.ID.String(),
		Details:    map[string]any{"username": user.Username, "role": string(user.Role)},
	})
	return user, nil
}

func (s *Service) loadUser(ctx context.Context, userID id.UserID) (*models.User, error) {
	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "user ID required")
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "user not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user")
	}
	return user, nil
}
