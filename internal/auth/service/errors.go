package service

import (
	"fmt"
	"time"

	dErrors "cmsguard/pkg/domain-errors"
)

var (
	// ErrInvalidCredentials is returned for an unknown username and for a wrong
	// password alike.
	ErrInvalidCredentials       = dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")
	ErrInactiveAccount          = dErrors.New(dErrors.CodeForbidden, "account is inactive")
	ErrInvalidSession           = dErrors.New(dErrors.CodeUnauthorized, "invalid or expired session")
	ErrInvalidVerificationToken = dErrors.New(dErrors.CodeBadRequest, "invalid verification token")
	ErrPasswordReuse            = dErrors.New(dErrors.CodeValidation, "new password must differ from the current password")
	ErrEmailAlreadyVerified     = dErrors.New(dErrors.CodeConflict, "email is already verified")
)

// AccountLockedError is returned when the password was right but the account
// is locked after repeated failures.
type AccountLockedError struct {
	LockedUntil time.Time
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.LockedUntil.UTC().Format(time.RFC3339))
}

func (e *AccountLockedError) Unwrap() error {
	return dErrors.New(dErrors.CodeLocked, "account is temporarily locked")
}
