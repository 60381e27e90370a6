//go:build integration

package ratelimit_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"cmsguard/internal/lockout"
	"cmsguard/internal/ratelimit/store/ratelimit"
	"cmsguard/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *ratelimit.PostgresStore
	policy   lockout.Policy
	t0       time.Time
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = ratelimit.NewPostgres(s.postgres.DB)
	s.policy = lockout.DefaultPolicy()
	s.t0 = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "rate_limits")
	s.Require().NoError(err)
}

// TestLockoutSequence walks the login scenario: five failures lock the
// identifier for fifteen minutes and the lock lapses on its own.
func (s *PostgresStoreSuite) TestLockoutSequence() {
	ctx := context.Background()
	key := "203.0.113.5:login"

	var lockedNow bool
	for i := range 5 {
		record, locked, err := s.store.RecordAttempt(ctx, key, s.t0.Add(time.Duration(i)*time.Minute), s.policy)
		s.Require().NoError(err)
		s.Equal(i+1, record.Attempts())
		lockedNow = locked
	}
	s.True(lockedNow)

	record, err := s.store.Get(ctx, key)
	s.Require().NoError(err)
	s.Require().NotNil(record.LockedUntil())
	s.True(record.LockedUntil().Equal(s.t0.Add(19 * time.Minute)))

	record, lockedNow, err = s.store.RecordAttempt(ctx, key, s.t0.Add(10*time.Minute), s.policy)
	s.Require().NoError(err)
	s.False(lockedNow)
	s.Equal(6, record.Attempts())
	s.True(record.LockedUntil().Equal(s.t0.Add(19*time.Minute)), "active lock keeps its deadline")

	record, lockedNow, err = s.store.RecordAttempt(ctx, key, s.t0.Add(20*time.Minute), s.policy)
	s.Require().NoError(err)
	s.False(lockedNow)
	s.Equal(1, record.Attempts())
	s.Nil(record.LockedUntil())
}

// TestConcurrentAttempts verifies the single-statement upsert never loses an
// increment and reports the lock exactly once.
func (s *PostgresStoreSuite) TestConcurrentAttempts() {
	ctx := context.Background()
	key := "198.51.100.7:login"
	const goroutines = 50

	var wg sync.WaitGroup
	var lockers atomic.Int32
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, lockedNow, err := s.store.RecordAttempt(ctx, key, s.t0, s.policy)
			s.NoError(err)
			if lockedNow {
				lockers.Add(1)
			}
		}()
	}
	wg.Wait()

	record, err := s.store.Get(ctx, key)
	s.Require().NoError(err)
	s.Equal(goroutines, record.Attempts())
	s.Equal(int32(1), lockers.Load())
	s.NotNil(record.LockedUntil())
}

func (s *PostgresStoreSuite) TestDeleteStale() {
	ctx := context.Background()

	_, _, err := s.store.RecordAttempt(ctx, "old:login", s.t0, s.policy)
	s.Require().NoError(err)
	_, _, err = s.store.RecordAttempt(ctx, "fresh:login", s.t0.Add(30*time.Minute), s.policy)
	s.Require().NoError(err)

	now := s.t0.Add(31 * time.Minute)
	deleted, err := s.store.DeleteStale(ctx, now, now.Add(-s.policy.Window))
	s.Require().NoError(err)
	s.Equal(1, deleted)

	record, err := s.store.Get(ctx, "old:login")
	s.Require().NoError(err)
	s.Nil(record)
}
