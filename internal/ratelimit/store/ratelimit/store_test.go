package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"cmsguard/internal/lockout"
	"cmsguard/internal/ratelimit/models"
)

type store interface {
	Get(ctx context.Context, identifier string) (*models.RateLimit, error)
	Save(ctx context.Context, record *models.RateLimit) error
	RecordAttempt(ctx context.Context, identifier string, now time.Time, policy lockout.Policy) (*models.RateLimit, bool, error)
	Delete(ctx context.Context, identifier string) error
	DeleteStale(ctx context.Context, now, cutoff time.Time) (int, error)
}

// StoreSuite runs the same behavioral checks against every backend.
type StoreSuite struct {
	suite.Suite
	newStore func() store
	store    store
	policy   lockout.Policy
	t0       time.Time
}

func (s *StoreSuite) SetupTest() {
	s.store = s.newStore()
	s.policy = lockout.DefaultPolicy()
	s.t0 = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, &StoreSuite{newStore: func() store { return NewInMemory() }})
}

func TestRedisStoreSuite(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	suite.Run(t, &StoreSuite{newStore: func() store {
		mr.FlushAll()
		return NewRedis(client)
	}})
}

func (s *StoreSuite) TestGetMissing() {
	record, err := s.store.Get(context.Background(), "203.0.113.5:login")
	s.NoError(err)
	s.Nil(record)
}

func (s *StoreSuite) TestRecordAttempt() {
	ctx := context.Background()
	key := "203.0.113.5:login"

	s.Run("creates the record on first attempt", func() {
		record, lockedNow, err := s.store.RecordAttempt(ctx, key, s.t0, s.policy)
		s.Require().NoError(err)
		s.False(lockedNow)
		s.Equal(1, record.Attempts())
		s.True(record.Counter.FirstAttemptAt.Equal(s.t0))
		s.False(record.ID.IsNil())
	})

	s.Run("locks exactly when the threshold is crossed", func() {
		var lockedNow bool
		for i := 1; i < 5; i++ {
			var err error
			_, lockedNow, err = s.store.RecordAttempt(ctx, key, s.t0.Add(time.Duration(i)*time.Minute), s.policy)
			s.Require().NoError(err)
		}
		s.True(lockedNow)

		record, err := s.store.Get(ctx, key)
		s.Require().NoError(err)
		s.Require().NotNil(record.LockedUntil())
		s.True(record.LockedUntil().Equal(s.t0.Add(4*time.Minute + 15*time.Minute)))
	})

	s.Run("attempts while locked keep the deadline", func() {
		record, lockedNow, err := s.store.RecordAttempt(ctx, key, s.t0.Add(5*time.Minute), s.policy)
		s.Require().NoError(err)
		s.False(lockedNow)
		s.Equal(6, record.Attempts())
		s.True(record.LockedUntil().Equal(s.t0.Add(19 * time.Minute)))
	})

	s.Run("expired lock restarts the counter", func() {
		later := s.t0.Add(20 * time.Minute)
		record, lockedNow, err := s.store.RecordAttempt(ctx, key, later, s.policy)
		s.Require().NoError(err)
		s.False(lockedNow)
		s.Equal(1, record.Attempts())
		s.Nil(record.LockedUntil())
	})
}

func (s *StoreSuite) TestStaleWindowRestarts() {
	ctx := context.Background()
	key := "198.51.100.7:login"

	_, _, err := s.store.RecordAttempt(ctx, key, s.t0, s.policy)
	s.Require().NoError(err)
	_, _, err = s.store.RecordAttempt(ctx, key, s.t0.Add(time.Minute), s.policy)
	s.Require().NoError(err)

	record, _, err := s.store.RecordAttempt(ctx, key, s.t0.Add(16*time.Minute), s.policy)
	s.Require().NoError(err)
	s.Equal(1, record.Attempts())
}

func (s *StoreSuite) TestConcurrentAttemptsLockOnce() {
	ctx := context.Background()
	key := "192.0.2.1:login"
	const goroutines = 5

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		lockers int
	)
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, lockedNow, err := s.store.RecordAttempt(ctx, key, s.t0, s.policy)
			if err != nil {
				return
			}
			if lockedNow {
				mu.Lock()
				lockers++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	record, err := s.store.Get(ctx, key)
	s.Require().NoError(err)
	s.Require().NotNil(record)
	s.LessOrEqual(lockers, 1)
	if record.Attempts() == goroutines {
		s.Equal(1, lockers)
		s.NotNil(record.LockedUntil())
	}
}

func (s *StoreSuite) TestSaveAndDelete() {
	ctx := context.Background()
	key := "user:abc:change_password"

	record, err := models.NewRateLimit(key, s.t0)
	s.Require().NoError(err)
	record.IncrementAttempts(s.t0)
	record.IncrementAttempts(s.t0)
	s.Require().NoError(s.store.Save(ctx, record))

	got, err := s.store.Get(ctx, key)
	s.Require().NoError(err)
	s.Require().NotNil(got)
	s.Equal(2, got.Attempts())
	s.Equal(record.ID, got.ID)

	s.Require().NoError(s.store.Delete(ctx, key))
	s.Require().NoError(s.store.Delete(ctx, key), "deleting a missing record is not an error")

	got, err = s.store.Get(ctx, key)
	s.NoError(err)
	s.Nil(got)
}
