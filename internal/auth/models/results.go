package models

import "time"

// LoginResult is returned by a successful login.
type LoginResult struct {
	User      *User
	Token     string
	CSRFToken string
	ExpiresAt time.Time
}

// FailedAttemptResult reports the account counter after a failed login.
type FailedAttemptResult struct {
	User          *User
	AttemptsCount int
	IsLocked      bool
	LockedUntil   *time.Time
}
