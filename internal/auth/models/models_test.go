package models

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"cmsguard/internal/lockout"
	"cmsguard/pkg/platform/sentinel"
)

type VerificationTokenSuite struct {
	suite.Suite
	now time.Time
}

func TestVerificationTokenSuite(t *testing.T) {
	suite.Run(t, new(VerificationTokenSuite))
}

func (s *VerificationTokenSuite) SetupTest() {
	s.now = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
}

func (s *VerificationTokenSuite) newToken() *EmailVerificationToken {
	token, err := NewEmailVerificationToken(bytes.NewReader(bytes.Repeat([]byte{0xab}, 32)), s.now, 0)
	s.Require().NoError(err)
	return token
}

func (s *VerificationTokenSuite) TestNew() {
	token := s.newToken()

	s.Len(token.Token, 64)
	s.Equal(bytes.Repeat([]byte("ab"), 32), []byte(token.Token))
	s.True(token.ExpiresAt.Equal(s.now.Add(24 * time.Hour)))
	s.False(token.IsUsed)
}

func (s *VerificationTokenSuite) TestShortRandomSourceFails() {
	_, err := NewEmailVerificationToken(bytes.NewReader([]byte{1, 2, 3}), s.now, time.Hour)
	s.Error(err)
}

func (s *VerificationTokenSuite) TestRoundTrip() {
	token := s.newToken()

	s.True(token.Matches(token.Token))
	s.False(token.Matches("wrong"))
	s.False(token.Matches(""))
	s.True(token.IsValid(s.now))

	token.MarkAsUsed()
	s.False(token.IsValid(s.now))
	s.ErrorIs(token.Validate(s.now), ErrTokenAlreadyUsed)
	s.ErrorIs(token.Validate(s.now), sentinel.ErrAlreadyUsed)
}

func (s *VerificationTokenSuite) TestExpiry() {
	token := s.newToken()

	s.NoError(token.Validate(token.ExpiresAt.Add(-time.Nanosecond)))

	s.False(token.IsValid(token.ExpiresAt), "a token is dead at its expiry instant")
	s.ErrorIs(token.Validate(token.ExpiresAt), ErrTokenExpired)

	err := token.Validate(s.now.Add(24*time.Hour + time.Second))
	s.True(errors.Is(err, sentinel.ErrExpired))
}

func (s *VerificationTokenSuite) TestRemainingHours() {
	token := s.newToken()

	s.Equal(24, token.RemainingHours(s.now))
	s.Equal(24, token.RemainingHours(s.now.Add(time.Minute)))
	s.Equal(1, token.RemainingHours(s.now.Add(23*time.Hour+59*time.Minute)))
	s.Equal(0, token.RemainingHours(s.now.Add(25*time.Hour)))
}

func TestUserLockout(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	policy := lockout.DefaultPolicy()

	user, err := NewUser("editor", "editor@example.com", "hash", RoleEditor, now)
	require.NoError(t, err)

	for i := 1; i < 5; i++ {
		assert.False(t, user.RecordFailedLogin(policy, now))
		assert.Equal(t, i, user.FailedLoginAttempts())
	}
	assert.True(t, user.RecordFailedLogin(policy, now), "fifth failure locks")
	assert.True(t, user.IsLockedAt(now))

	until := *user.LockedUntil()
	user.LockAccount(policy, now.Add(time.Minute))
	assert.True(t, user.LockedUntil().Equal(until), "lock is idempotent")

	assert.False(t, user.IsLockedAt(now.Add(15*time.Minute)))

	user.ResetFailedAttempts(now)
	assert.Equal(t, 0, user.FailedLoginAttempts())
	assert.Nil(t, user.LockedUntil())
}

func TestNewUserInvariants(t *testing.T) {
	now := time.Now()

	_, err := NewUser("", "a@example.com", "hash", RoleViewer, now)
	assert.Error(t, err)

	_, err = NewUser("name", "a@example.com", "", RoleViewer, now)
	assert.Error(t, err)

	_, err = NewUser("name", "a@example.com", "hash", Role("root"), now)
	assert.Error(t, err)
}

func TestSessionValidity(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	session := &Session{CreatedAt: now, ExpiresAt: now.Add(DefaultSessionTTL)}

	assert.True(t, session.IsValid(now))
	assert.Equal(t, DefaultSessionTTL, session.TTL(now))
	assert.False(t, session.IsValid(now.Add(DefaultSessionTTL)))
	assert.Zero(t, session.TTL(now.Add(48*time.Hour)))
}
