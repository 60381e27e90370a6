package models

import (
	"time"

	"cmsguard/internal/lockout"
	id "cmsguard/pkg/domain"
	dErrors "cmsguard/pkg/domain-errors"
)

// RateLimit is the per-identifier attempt counter. The identifier is typically
// "<ip>:<action>" or "user:<id>:<action>".
//
// Transitions are delegated to the lockout package; this type only adds
// identity and timestamps.
type RateLimit struct {
	ID         id.RateLimitID `json:"id"`
	Identifier string         `json:"identifier"`
	Counter    lockout.State  `json:"-"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// NewRateLimit creates a Fresh record for identifier.
func NewRateLimit(identifier string, now time.Time) (*RateLimit, error) {
	if identifier == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "identifier cannot be empty")
	}
	return &RateLimit{
		ID:         id.NewRateLimitID(),
		Identifier: identifier,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (r *RateLimit) Attempts() int {
	return r.Counter.Attempts
}

func (r *RateLimit) LockedUntil() *time.Time {
	return r.Counter.LockedUntil
}

// IncrementAttempts counts one attempt without applying the lock rule.
func (r *RateLimit) IncrementAttempts(now time.Time) {
	r.Counter = lockout.Increment(r.Counter, now)
	r.UpdatedAt = now
}

// IsLimitExceeded reports whether attempts have reached the policy maximum.
func (r *RateLimit) IsLimitExceeded(p lockout.Policy) bool {
	return p.Exceeded(r.Counter)
}

// Lock applies the policy lock. An active lock is left untouched.
func (r *RateLimit) Lock(p lockout.Policy, now time.Time) {
	r.Counter = p.Lock(r.Counter, now)
	r.UpdatedAt = now
}

// Refresh applies lazy expiry and window forgiveness, returning the evaluated
// copy and whether it differs from r. r itself is not modified.
func (r *RateLimit) Refresh(p lockout.Policy, now time.Time) (*RateLimit, bool) {
	next, changed := p.Refresh(r.Counter, now)
	out := *r
	out.Counter = next
	if changed {
		out.UpdatedAt = now
	}
	return &out, changed
}

// IsLocked evaluates lock expiry at now.
func (r *RateLimit) IsLocked(now time.Time) bool {
	return lockout.IsLocked(lockout.Evaluate(r.Counter, now), now)
}

func (r *RateLimit) IsAttemptWindowExpired(p lockout.Policy, now time.Time) bool {
	return p.WindowExpired(r.Counter, now)
}

func (r *RateLimit) RemainingLockSeconds(now time.Time) int {
	return lockout.RemainingLockSeconds(r.Counter, now)
}

// Reset returns the counter to Fresh.
func (r *RateLimit) Reset(now time.Time) {
	r.Counter = lockout.Reset()
	r.UpdatedAt = now
}

// IsStale reports whether the record carries no information at now: any lock has
// expired and the attempt window has passed. Stale records can be deleted.
func (r *RateLimit) IsStale(p lockout.Policy, now time.Time) bool {
	if r.IsLocked(now) {
		return false
	}
	return r.Counter.Attempts == 0 || now.Sub(r.Counter.FirstAttemptAt) > p.Window
}

// Status is a read-only projection of a RateLimit at a point in time.
type Status struct {
	Identifier       string     `json:"identifier"`
	Attempts         int        `json:"attempts"`
	MaxAttempts      int        `json:"max_attempts"`
	Remaining        int        `json:"remaining"`
	IsLocked         bool       `json:"is_locked"`
	LockedUntil      *time.Time `json:"locked_until,omitempty"`
	RemainingSeconds int        `json:"remaining_seconds"`
	AllowsAttempt    bool       `json:"allows_attempt"`
	ResetAt          time.Time  `json:"reset_at"`
}

// StatusOf projects r (nil means no record) under policy p at now.
func StatusOf(identifier string, r *RateLimit, p lockout.Policy, now time.Time) Status {
	var state lockout.State
	if r != nil {
		state, _ = p.Refresh(r.Counter, now)
	}

	locked := lockout.IsLocked(state, now)
	st := Status{
		Identifier:       identifier,
		Attempts:         state.Attempts,
		MaxAttempts:      p.MaxAttempts,
		Remaining:        p.Remaining(state, now),
		IsLocked:         locked,
		RemainingSeconds: lockout.RemainingLockSeconds(state, now),
		AllowsAttempt:    !locked && !p.Exceeded(state),
		ResetAt:          now.Add(p.Window),
	}
	if locked {
		st.LockedUntil = state.LockedUntil
		st.ResetAt = *state.LockedUntil
	} else if state.Attempts > 0 {
		st.ResetAt = state.FirstAttemptAt.Add(p.Window)
	}
	return st
}
