package models

import (
	"fmt"
	"math"
	"time"

	"cmsguard/pkg/platform/secure"
	"cmsguard/pkg/platform/sentinel"
)

// DefaultVerificationTTL is the lifetime of an email verification token.
const DefaultVerificationTTL = 24 * time.Hour

var (
	ErrTokenExpired     = fmt.Errorf("verification token: %w", sentinel.ErrExpired)
	ErrTokenAlreadyUsed = fmt.Errorf("verification token: %w", sentinel.ErrAlreadyUsed)
)

// EmailVerificationToken is a single-use, time-limited proof of mailbox control.
type EmailVerificationToken struct {
	Token     string
	CreatedAt time.Time
	ExpiresAt time.Time
	IsUsed    bool
}

// NewEmailVerificationToken draws 32 bytes from random and hex-encodes them.
func NewEmailVerificationToken(random secure.RandomSource, now time.Time, ttl time.Duration) (*EmailVerificationToken, error) {
	if ttl <= 0 {
		ttl = DefaultVerificationTTL
	}
	token, err := secure.Token(random)
	if err != nil {
		return nil, err
	}
	return &EmailVerificationToken{
		Token:     token,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}, nil
}

// Matches compares candidate to the token in constant time.
func (t *EmailVerificationToken) Matches(candidate string) bool {
	return secure.Equal(t.Token, candidate)
}

// IsExpired reports whether now has reached ExpiresAt.
func (t *EmailVerificationToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Validate returns ErrTokenAlreadyUsed or ErrTokenExpired, in that order.
func (t *EmailVerificationToken) Validate(now time.Time) error {
	if t.IsUsed {
		return ErrTokenAlreadyUsed
	}
	if t.IsExpired(now) {
		return ErrTokenExpired
	}
	return nil
}

func (t *EmailVerificationToken) IsValid(now time.Time) bool {
	return t.Validate(now) == nil
}

func (t *EmailVerificationToken) MarkAsUsed() {
	t.IsUsed = true
}

// RemainingHours rounds the time left up to whole hours; 0 once expired.
func (t *EmailVerificationToken) RemainingHours(now time.Time) int {
	remaining := t.ExpiresAt.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining.Hours()))
}
