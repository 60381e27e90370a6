// Package lockout is the attempt counter shared by per-client rate limits and
// per-account failed-login tracking. Every function is pure: callers pass the
// current state and time and persist whatever comes back.
//
// States:
//
//	Fresh (zero State) -> Accumulating (1..MaxAttempts-1) -> Locked (LockedUntil set)
//	Locked -> Fresh once now >= LockedUntil, or on Reset.
//	Accumulating -> Fresh once the attempt window has passed.
package lockout

import (
	"math"
	"time"
)

// Policy parameterizes a counter.
type Policy struct {
	MaxAttempts  int
	Window       time.Duration
	LockDuration time.Duration
}

// DefaultPolicy is 5 attempts per 15 minutes, then a 15 minute lock.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  5,
		Window:       15 * time.Minute,
		LockDuration: 15 * time.Minute,
	}
}

// Normalize fills zero fields from DefaultPolicy.
func (p Policy) Normalize() Policy {
	def := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.Window <= 0 {
		p.Window = def.Window
	}
	if p.LockDuration <= 0 {
		p.LockDuration = def.LockDuration
	}
	return p
}

// State is the persisted part of a counter.
type State struct {
	Attempts       int
	FirstAttemptAt time.Time
	LockedUntil    *time.Time
}

// IsFresh reports whether s carries no attempts and no lock.
func (s State) IsFresh() bool {
	return s.Attempts == 0 && s.LockedUntil == nil
}

// Evaluate applies lazy lock expiry. An expired lock yields the Fresh state;
// anything else is returned unchanged. Evaluate(Evaluate(s, t), t) == Evaluate(s, t).
func Evaluate(s State, now time.Time) State {
	if s.LockedUntil != nil && !now.Before(*s.LockedUntil) {
		return State{}
	}
	return s
}

// IsLocked reports whether s blocks attempts at now.
func IsLocked(s State, now time.Time) bool {
	return s.LockedUntil != nil && now.Before(*s.LockedUntil)
}

// WindowExpired reports whether accumulated attempts are old enough to be forgiven.
func (p Policy) WindowExpired(s State, now time.Time) bool {
	return s.Attempts > 0 && now.Sub(s.FirstAttemptAt) > p.Window
}

// Exceeded reports whether s has reached the attempt limit.
func (p Policy) Exceeded(s State) bool {
	return s.Attempts >= p.MaxAttempts
}

// Increment counts one attempt and starts the window on the first one.
func Increment(s State, now time.Time) State {
	if s.Attempts == 0 {
		s.FirstAttemptAt = now
	}
	s.Attempts++
	return s
}

// Lock sets LockedUntil to now+LockDuration. An active lock is kept as is, so
// concurrent or repeated lock decisions converge on the same deadline.
func (p Policy) Lock(s State, now time.Time) State {
	if IsLocked(s, now) {
		return s
	}
	until := now.Add(p.LockDuration)
	s.LockedUntil = &until
	return s
}

// Record evaluates expiry, forgives a stale window, counts the attempt, and locks
// when the limit is reached. lockedNow is true only when this call applied the lock.
func (p Policy) Record(s State, now time.Time) (next State, lockedNow bool) {
	wasLocked := IsLocked(s, now)
	next = Evaluate(s, now)
	if p.WindowExpired(next, now) && !IsLocked(next, now) {
		next = State{}
	}
	next = Increment(next, now)
	if p.Exceeded(next) {
		next = p.Lock(next, now)
	}
	return next, !wasLocked && IsLocked(next, now)
}

// Refresh is Evaluate followed by window forgiveness for unlocked state. changed is
// true when the result differs from s and is worth writing back.
func (p Policy) Refresh(s State, now time.Time) (next State, changed bool) {
	next = Evaluate(s, now)
	if !IsLocked(next, now) && p.WindowExpired(next, now) {
		next = State{}
	}
	return next, !equal(s, next)
}

// RemainingLock is the time left on an active lock, or zero.
func RemainingLock(s State, now time.Time) time.Duration {
	if !IsLocked(s, now) {
		return 0
	}
	return s.LockedUntil.Sub(now)
}

// RemainingLockSeconds rounds RemainingLock up to whole seconds.
func RemainingLockSeconds(s State, now time.Time) int {
	return ceilDiv(RemainingLock(s, now), time.Second)
}

// RemainingLockMinutes rounds RemainingLock up to whole minutes.
func RemainingLockMinutes(s State, now time.Time) int {
	return ceilDiv(RemainingLock(s, now), time.Minute)
}

// Remaining is how many attempts are left before the lock triggers.
func (p Policy) Remaining(s State, now time.Time) int {
	if IsLocked(s, now) {
		return 0
	}
	return max(p.MaxAttempts-s.Attempts, 0)
}

// Reset returns the Fresh state.
func Reset() State {
	return State{}
}

func ceilDiv(d, unit time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(float64(d) / float64(unit)))
}

func equal(a, b State) bool {
	if a.Attempts != b.Attempts || !a.FirstAttemptAt.Equal(b.FirstAttemptAt) {
		return false
	}
	if (a.LockedUntil == nil) != (b.LockedUntil == nil) {
		return false
	}
	return a.LockedUntil == nil || a.LockedUntil.Equal(*b.LockedUntil)
}
