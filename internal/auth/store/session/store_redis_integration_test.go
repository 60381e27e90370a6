//go:build integration

package session_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"cmsguard/internal/auth/models"
	"cmsguard/internal/auth/store/session"
	id "cmsguard/pkg/domain"
	"cmsguard/pkg/platform/sentinel"
	"cmsguard/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *session.RedisStore
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = session.NewRedis(s.redis.Client)
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func makeSession(token string, userID id.UserID, ttl time.Duration) *models.Session {
	now := time.Now()
	return &models.Session{
		Token:      token,
		UserID:     userID,
		CSRFSecret: "csrf-" + token,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
}

// TestKeyExpiresWithSession verifies the session key carries the session TTL.
func (s *RedisStoreSuite) TestKeyExpiresWithSession() {
	ctx := context.Background()
	s.Require().NoError(s.store.Create(ctx, makeSession("ttl-token", id.NewUserID(), time.Hour)))

	ttl, err := s.redis.TTL(ctx, "session:ttl-token")
	s.Require().NoError(err)
	s.Greater(ttl, 59*time.Minute)
	s.LessOrEqual(ttl, time.Hour)
}

// TestConcurrentRevocation creates many sessions in parallel and revokes them
// all but one in a single call.
func (s *RedisStoreSuite) TestConcurrentRevocation() {
	ctx := context.Background()
	userID := id.NewUserID()
	const sessions = 25

	var wg sync.WaitGroup
	for i := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.NoError(s.store.Create(ctx, makeSession(fmt.Sprintf("tok-%d", i), userID, time.Hour)))
		}()
	}
	wg.Wait()

	deleted, err := s.store.DeleteByUser(ctx, userID, "tok-0")
	s.Require().NoError(err)
	s.Equal(sessions-1, deleted)

	_, err = s.store.FindByToken(ctx, "tok-0")
	s.NoError(err)
	_, err = s.store.FindByToken(ctx, "tok-1")
	s.ErrorIs(err, sentinel.ErrNotFound)
}
