package lockout

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type LockoutSuite struct {
	suite.Suite
	policy Policy
	now    time.Time
}

func TestLockoutSuite(t *testing.T) {
	suite.Run(t, new(LockoutSuite))
}

func (s *LockoutSuite) SetupTest() {
	s.policy = Policy{MaxAttempts: 3, Window: 10 * time.Minute, LockDuration: 5 * time.Minute}
	s.now = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
}

func (s *LockoutSuite) TestRecord() {
	s.Run("locks exactly on the max attempt", func() {
		st := State{}
		var locked bool
		for i := 1; i < s.policy.MaxAttempts; i++ {
			st, locked = s.policy.Record(st, s.now)
			s.False(locked)
			s.False(IsLocked(st, s.now))
		}
		st, locked = s.policy.Record(st, s.now)
		s.True(locked)
		s.True(IsLocked(st, s.now))
		s.Equal(s.now.Add(5*time.Minute), *st.LockedUntil)
	})

	s.Run("first attempt starts the window", func() {
		st, _ := s.policy.Record(State{}, s.now)
		s.Equal(1, st.Attempts)
		s.Equal(s.now, st.FirstAttemptAt)

		st, _ = s.policy.Record(st, s.now.Add(time.Minute))
		s.Equal(2, st.Attempts)
		s.Equal(s.now, st.FirstAttemptAt)
	})

	s.Run("stale window is forgiven before counting", func() {
		st := State{Attempts: 2, FirstAttemptAt: s.now}
		later := s.now.Add(11 * time.Minute)

		next, locked := s.policy.Record(st, later)
		s.False(locked)
		s.Equal(1, next.Attempts)
		s.Equal(later, next.FirstAttemptAt)
	})

	s.Run("lock is idempotent while active", func() {
		until := s.now.Add(2 * time.Minute)
		st := State{Attempts: 3, FirstAttemptAt: s.now.Add(-time.Minute), LockedUntil: &until}

		next, locked := s.policy.Record(st, s.now)
		s.False(locked, "an existing lock is not re-applied")
		s.Equal(until, *next.LockedUntil)
	})

	s.Run("expired lock restarts from fresh", func() {
		until := s.now.Add(-time.Second)
		st := State{Attempts: 3, FirstAttemptAt: s.now.Add(-10 * time.Minute), LockedUntil: &until}

		next, locked := s.policy.Record(st, s.now)
		s.False(locked)
		s.Nil(next.LockedUntil)
		s.Equal(1, next.Attempts)
	})
}

func (s *LockoutSuite) TestEvaluate() {
	s.Run("expired lock yields fresh state", func() {
		until := s.now
		st := State{Attempts: 5, LockedUntil: &until}
		s.True(Evaluate(st, s.now).IsFresh())
	})

	s.Run("active lock unchanged", func() {
		until := s.now.Add(time.Second)
		st := State{Attempts: 5, LockedUntil: &until}
		s.Equal(st, Evaluate(st, s.now))
	})

	s.Run("idempotent", func() {
		until := s.now.Add(-time.Minute)
		st := State{Attempts: 5, LockedUntil: &until}
		once := Evaluate(st, s.now)
		s.Equal(once, Evaluate(once, s.now))
	})
}

func (s *LockoutSuite) TestRefresh() {
	s.Run("fresh state reports no change", func() {
		_, changed := s.policy.Refresh(State{}, s.now)
		s.False(changed)
	})

	s.Run("stale unlocked window is cleared", func() {
		st := State{Attempts: 2, FirstAttemptAt: s.now.Add(-20 * time.Minute)}
		next, changed := s.policy.Refresh(st, s.now)
		s.True(changed)
		s.True(next.IsFresh())
	})

	s.Run("active lock survives an old window", func() {
		until := s.now.Add(time.Minute)
		st := State{Attempts: 3, FirstAttemptAt: s.now.Add(-20 * time.Minute), LockedUntil: &until}
		next, changed := s.policy.Refresh(st, s.now)
		s.False(changed)
		s.True(IsLocked(next, s.now))
	})
}

func TestRemainingLock(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	until := now.Add(61 * time.Second)
	st := State{Attempts: 5, LockedUntil: &until}

	assert.Equal(t, 61*time.Second, RemainingLock(st, now))
	assert.Equal(t, 61, RemainingLockSeconds(st, now))
	assert.Equal(t, 2, RemainingLockMinutes(st, now))

	assert.Zero(t, RemainingLock(st, until))
	assert.Zero(t, RemainingLockMinutes(State{}, now))
}

func TestPolicyRemaining(t *testing.T) {
	p := DefaultPolicy()
	now := time.Now()

	assert.Equal(t, 5, p.Remaining(State{}, now))
	assert.Equal(t, 2, p.Remaining(State{Attempts: 3}, now))
	assert.Equal(t, 0, p.Remaining(State{Attempts: 9}, now))

	until := now.Add(time.Minute)
	assert.Equal(t, 0, p.Remaining(State{Attempts: 1, LockedUntil: &until}, now))
}

func TestNormalize(t *testing.T) {
	p := Policy{MaxAttempts: 10}.Normalize()
	require.Equal(t, 10, p.MaxAttempts)
	assert.Equal(t, 15*time.Minute, p.Window)
	assert.Equal(t, 15*time.Minute, p.LockDuration)
}
