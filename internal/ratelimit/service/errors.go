package service

import (
	"fmt"
	"time"

	dErrors "cmsguard/pkg/domain-errors"
)

// RateLimitExceededError is returned by CheckAllowed while an identifier is locked.
type RateLimitExceededError struct {
	Identifier        string
	RetryAfterMinutes int
	RetryAfter        time.Duration
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("too many attempts, retry in %d minute(s)", e.RetryAfterMinutes)
}

// Unwrap exposes the domain code so generic error mapping yields 429.
func (e *RateLimitExceededError) Unwrap() error {
	return dErrors.New(dErrors.CodeTooManyRequests, e.Error())
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, minimum 1.
func (e *RateLimitExceededError) RetryAfterSeconds() int {
	secs := int((e.RetryAfter + time.Second - 1) / time.Second)
	return max(secs, 1)
}
