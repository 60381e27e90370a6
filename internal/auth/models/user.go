package models

import (
	"fmt"
	"time"

	"cmsguard/internal/lockout"
	id "cmsguard/pkg/domain"
	dErrors "cmsguard/pkg/domain-errors"
	"cmsguard/pkg/platform/sentinel"
)

// Uniqueness failures reported by user stores. Both wrap sentinel.ErrConflict
// and compare case-insensitively.
var (
	ErrUsernameTaken = fmt.Errorf("username: %w", sentinel.ErrConflict)
	ErrEmailTaken    = fmt.Errorf("email: %w", sentinel.ErrConflict)
)

// Role is the CMS permission tier of an account.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleAuthor Role = "author"
	RoleViewer Role = "viewer"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleEditor, RoleAuthor, RoleViewer:
		return true
	}
	return false
}

// User is a CMS account. Lockout counts failed logins against the account,
// independently of the per-client rate limit.
type User struct {
	ID                id.UserID
	Username          string
	Email             string
	PasswordHash      string
	Role              Role
	IsActive          bool
	EmailVerified     bool
	Lockout           lockout.State
	Verification      *EmailVerificationToken
	LastLoginAt       *time.Time
	PasswordChangedAt *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NewUser builds an active, unverified account.
func NewUser(username, email, passwordHash string, role Role, now time.Time) (*User, error) {
	if username == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "username cannot be empty")
	}
	if passwordHash == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "password hash cannot be empty")
	}
	if !role.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "invalid role")
	}
	return &User{
		ID:           id.NewUserID(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		Role:         role,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func (u *User) FailedLoginAttempts() int {
	return u.Lockout.Attempts
}

func (u *User) LockedUntil() *time.Time {
	return u.Lockout.LockedUntil
}

// IsLockedAt reports whether the account lock is still running at now.
func (u *User) IsLockedAt(now time.Time) bool {
	return lockout.IsLocked(u.Lockout, now)
}

// RecordFailedLogin counts one failed login under p and locks the account when
// the count reaches the maximum. lockedNow is true only for the call that
// applied the lock.
func (u *User) RecordFailedLogin(p lockout.Policy, now time.Time) (lockedNow bool) {
	u.Lockout, lockedNow = p.Record(u.Lockout, now)
	u.UpdatedAt = now
	return lockedNow
}

// LockAccount locks for p.LockDuration. A running lock keeps its deadline.
func (u *User) LockAccount(p lockout.Policy, now time.Time) {
	u.Lockout = p.Lock(u.Lockout, now)
	u.UpdatedAt = now
}

func (u *User) ResetFailedAttempts(now time.Time) {
	u.Lockout = lockout.Reset()
	u.UpdatedAt = now
}

func (u *User) RecordLogin(now time.Time) {
	u.LastLoginAt = &now
	u.UpdatedAt = now
}

func (u *User) SetPassword(hash string, now time.Time) {
	u.PasswordHash = hash
	u.PasswordChangedAt = &now
	u.UpdatedAt = now
}

// MarkEmailVerified consumes the pending verification token.
func (u *User) MarkEmailVerified(now time.Time) {
	if u.Verification != nil {
		u.Verification.MarkAsUsed()
	}
	u.EmailVerified = true
	u.UpdatedAt = now
}
