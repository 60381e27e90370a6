package service

import (
	"context"
	"errors"
	"time"

	"cmsguard/internal/auth/models"
	id "cmsguard/pkg/domain"
	dErrors "cmsguard/pkg/domain-errors"
	"cmsguard/pkg/email"
	"cmsguard/pkg/platform/audit"
	"cmsguard/pkg/requestcontext"
)

// IssueEmailVerification creates a fresh token for userID, replacing any
// earlier one, and mails it.
func (s *Service) IssueEmailVerification(ctx context.Context, userID id.UserID) (*models.EmailVerificationToken, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.EmailVerified {
		return nil, ErrEmailAlreadyVerified
	}

	now := requestcontext.Now(ctx)
	token, err := models.NewEmailVerificationToken(s.random, now, s.tokenTTL)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate verification token")
	}

	user.Verification = token
	user.UpdatedAt = now
	if err := s.users.Update(ctx, user); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store verification token")
	}

	if err := s.mailer.Send(ctx, email.VerificationMessage(user.Email, token.Token, token.ExpiresAt)); err != nil {
		s.logger.ErrorContext(ctx, "failed to send verification email",
			"error", err,
			"user_id", userID.String(),
		)
	}

	s.logAudit(ctx, audit.ActionEmailVerificationIssued, userID, audit.Entry{
		Details: map[string]any{"expires_at": token.ExpiresAt.UTC().Format(time.RFC3339)},
	})
	return token, nil
}

// VerifyEmail consumes candidate if it matches the user's pending token.
func (s *Service) VerifyEmail(ctx context.Context, userID id.UserID, candidate string) error {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return err
	}

	token := user.Verification
	if token == nil || !token.Matches(candidate) {
		return ErrInvalidVerificationToken
	}

	now := requestcontext.Now(ctx)
	if err := token.Validate(now); err != nil {
		switch {
		case errors.Is(err, models.ErrTokenAlreadyUsed):
			return dErrors.Wrap(err, dErrors.CodeConflict, "verification token already used")
		case errors.Is(err, models.ErrTokenExpired):
			return dErrors.Wrap(err, dErrors.CodeGone, "verification token expired")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to validate verification token")
	}

	user.MarkEmailVerified(now)
	if err := s.users.Update(ctx, user); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update user")
	}

	s.logAudit(ctx, audit.ActionEmailVerified, userID, audit.Entry{})
	return nil
}
