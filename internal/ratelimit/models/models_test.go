package models

import (
	"testing"
	"time"

	"cmsguard/internal/lockout"
	id "cmsguard/pkg/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentifiers(t *testing.T) {
	assert.Equal(t, "203.0.113.5:login", IPIdentifier("203.0.113.5", ActionLogin))
	assert.Equal(t, "2001:db8::1:login", IPIdentifier("2001:db8::1", ActionLogin))
	assert.Equal(t, "unknown:login", IPIdentifier("", ActionLogin))
	assert.Equal(t, "user_admin:login", NewIdentifier("user:admin", "login"))

	uid := id.UserID(uuid.MustParse("7c9e6679-7425-40de-944b-e07fc1f90ae7"))
	assert.Equal(t, "user:7c9e6679-7425-40de-944b-e07fc1f90ae7:change_password", UserIdentifier(uid, ActionChangePassword))

	assert.Equal(t, "login", ActionOf("2001:db8::1:login"))
	assert.Empty(t, ActionOf("nocolon"))
}

func TestRateLimitLifecycle(t *testing.T) {
	p := lockout.DefaultPolicy()
	t0 := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	rl, err := NewRateLimit("203.0.113.5:login", t0)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		rl.IncrementAttempts(t0.Add(time.Duration(i) * time.Minute))
	}
	require.True(t, rl.IsLimitExceeded(p))
	assert.False(t, rl.IsLocked(t0), "increment alone does not lock")

	lockAt := t0.Add(5 * time.Minute)
	rl.Lock(p, lockAt)
	require.True(t, rl.IsLocked(lockAt))
	first := *rl.LockedUntil()

	rl.Lock(p, lockAt.Add(time.Minute))
	assert.Equal(t, first, *rl.LockedUntil(), "re-locking keeps the deadline")
	assert.Equal(t, 15*60-60, rl.RemainingLockSeconds(lockAt.Add(time.Minute)))

	after := first.Add(time.Second)
	refreshed, changed := rl.Refresh(p, after)
	assert.True(t, changed)
	assert.Equal(t, 0, refreshed.Attempts())
	assert.False(t, refreshed.IsLocked(after))
	assert.Equal(t, 5, rl.Attempts(), "refresh does not mutate the receiver")

	rl.Reset(after)
	assert.Equal(t, 0, rl.Attempts())
	assert.Nil(t, rl.LockedUntil())
}

func TestNewRateLimitRequiresIdentifier(t *testing.T) {
	_, err := NewRateLimit("", time.Now())
	assert.Error(t, err)
}

func TestIsStale(t *testing.T) {
	p := lockout.DefaultPolicy()
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	recent := &RateLimit{Counter: lockout.State{Attempts: 2, FirstAttemptAt: now.Add(-time.Minute)}}
	assert.False(t, recent.IsStale(p, now))

	old := &RateLimit{Counter: lockout.State{Attempts: 2, FirstAttemptAt: now.Add(-time.Hour)}}
	assert.True(t, old.IsStale(p, now))

	until := now.Add(time.Minute)
	locked := &RateLimit{Counter: lockout.State{Attempts: 5, FirstAttemptAt: now.Add(-time.Hour), LockedUntil: &until}}
	assert.False(t, locked.IsStale(p, now))
}

func TestStatusOf(t *testing.T) {
	p := lockout.DefaultPolicy()
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	t.Run("no record", func(t *testing.T) {
		st := StatusOf("x:login", nil, p, now)
		assert.Equal(t, 0, st.Attempts)
		assert.Equal(t, 5, st.Remaining)
		assert.True(t, st.AllowsAttempt)
		assert.False(t, st.IsLocked)
	})

	t.Run("locked record", func(t *testing.T) {
		until := now.Add(90 * time.Second)
		rl := &RateLimit{Counter: lockout.State{Attempts: 5, FirstAttemptAt: now.Add(-time.Minute), LockedUntil: &until}}
		st := StatusOf("x:login", rl, p, now)
		assert.True(t, st.IsLocked)
		assert.False(t, st.AllowsAttempt)
		assert.Equal(t, 90, st.RemainingSeconds)
		assert.Equal(t, until, st.ResetAt)
	})
}

func TestIdentifierRequestValidate(t *testing.T) {
	req := &IdentifierRequest{Identifier: "  203.0.113.5:login "}
	req.Normalize()
	assert.NoError(t, req.Validate())

	assert.Error(t, (&IdentifierRequest{}).Validate())
	assert.Error(t, (&IdentifierRequest{Identifier: "nocolon"}).Validate())
}
