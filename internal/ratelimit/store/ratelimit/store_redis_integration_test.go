//go:build integration

package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"cmsguard/internal/lockout"
	"cmsguard/internal/ratelimit/store/ratelimit"
	"cmsguard/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis  *containers.RedisContainer
	store  *ratelimit.RedisStore
	policy lockout.Policy
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = ratelimit.NewRedis(s.redis.Client)
	s.policy = lockout.DefaultPolicy()
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

// TestLockExtendsKeyLifetime checks the key outlives the lock so a locked
// client cannot wait out the window and find a fresh record.
func (s *RedisStoreSuite) TestLockExtendsKeyLifetime() {
	ctx := context.Background()
	key := "203.0.113.5:login"
	now := time.Now().UTC()

	_, _, err := s.store.RecordAttempt(ctx, key, now, s.policy)
	s.Require().NoError(err)
	ttl, err := s.redis.TTL(ctx, "ratelimit:"+key)
	s.Require().NoError(err)
	s.LessOrEqual(ttl, s.policy.Window+time.Minute)

	lockTime := now.Add(10 * time.Minute)
	var lockedNow bool
	for range s.policy.MaxAttempts - 1 {
		_, lockedNow, err = s.store.RecordAttempt(ctx, key, lockTime, s.policy)
		s.Require().NoError(err)
	}
	s.True(lockedNow)

	record, err := s.store.Get(ctx, key)
	s.Require().NoError(err)
	s.Equal(s.policy.MaxAttempts, record.Attempts())
	s.Require().NotNil(record.LockedUntil())
	s.True(record.LockedUntil().Equal(lockTime.Add(s.policy.LockDuration)))

	ttl, err = s.redis.TTL(ctx, "ratelimit:"+key)
	s.Require().NoError(err)
	s.Greater(ttl, s.policy.Window-time.Minute)
}

func (s *RedisStoreSuite) TestDeleteClearsRecord() {
	ctx := context.Background()
	key := "user:abc:change_password"

	_, _, err := s.store.RecordAttempt(ctx, key, time.Now().UTC(), s.policy)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Delete(ctx, key))

	record, err := s.store.Get(ctx, key)
	s.Require().NoError(err)
	s.Nil(record)
}
