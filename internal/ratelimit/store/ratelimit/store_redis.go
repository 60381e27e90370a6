package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"cmsguard/internal/lockout"
	"cmsguard/internal/ratelimit/models"
	id "cmsguard/pkg/domain"
)

const (
	redisKeyPrefix  = "ratelimit:"
	maxWatchRetries = 3
	// records outlive their window slightly so a late Get still sees them
	ttlSlack = time.Minute
)

// ErrContention is returned when optimistic transactions keep conflicting.
var ErrContention = errors.New("rate limit record contention")

// RedisStore keeps each record in a hash with a TTL covering its window and lock.
// RecordAttempt runs under WATCH/MULTI and retries on conflict.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedis(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func redisKey(identifier string) string {
	return redisKeyPrefix + identifier
}

func (s *RedisStore) Get(ctx context.Context, identifier string) (*models.RateLimit, error) {
	fields, err := s.client.HGetAll(ctx, redisKey(identifier)).Result()
	if err != nil {
		return nil, fmt.Errorf("get rate limit: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return decodeRecord(identifier, fields)
}

func (s *RedisStore) Save(ctx context.Context, record *models.RateLimit) error {
	if record == nil {
		return fmt.Errorf("rate limit record is required")
	}
	key := redisKey(record.Identifier)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		writeRecord(ctx, pipe, key, record, ttlFor(record.Counter, record.UpdatedAt, 0))
		return nil
	})
	if err != nil {
		return fmt.Errorf("save rate limit: %w", err)
	}
	return nil
}

func (s *RedisStore) RecordAttempt(ctx context.Context, identifier string, now time.Time, policy lockout.Policy) (*models.RateLimit, bool, error) {
	key := redisKey(identifier)

	var (
		result    *models.RateLimit
		lockedNow bool
	)
	txf := func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}

		record := &models.RateLimit{
			ID:         id.NewRateLimitID(),
			Identifier: identifier,
			CreatedAt:  now,
		}
		if len(fields) > 0 {
			if record, err = decodeRecord(identifier, fields); err != nil {
				return err
			}
		}

		record.Counter, lockedNow = policy.Record(record.Counter, now)
		record.UpdatedAt = now

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			writeRecord(ctx, pipe, key, record, ttlFor(record.Counter, now, policy.Window))
			return nil
		})
		if err != nil {
			return err
		}
		result = record
		return nil
	}

	for range maxWatchRetries {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return result, lockedNow, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, false, fmt.Errorf("record rate limit attempt: %w", err)
	}
	return nil, false, ErrContention
}

func (s *RedisStore) Delete(ctx context.Context, identifier string) error {
	if err := s.client.Del(ctx, redisKey(identifier)).Err(); err != nil {
		return fmt.Errorf("delete rate limit: %w", err)
	}
	return nil
}

// DeleteStale is a no-op: every key carries a TTL that outlasts its window
// and lock, so Redis expires stale records itself.
func (s *RedisStore) DeleteStale(context.Context, time.Time, time.Time) (int, error) {
	return 0, nil
}

func writeRecord(ctx context.Context, pipe redis.Pipeliner, key string, record *models.RateLimit, ttl time.Duration) {
	var lockedUntil int64
	if record.Counter.LockedUntil != nil {
		lockedUntil = record.Counter.LockedUntil.UnixNano()
	}
	var firstAttempt int64
	if !record.Counter.FirstAttemptAt.IsZero() {
		firstAttempt = record.Counter.FirstAttemptAt.UnixNano()
	}
	pipe.HSet(ctx, key,
		"id", record.ID.String(),
		"attempts", record.Counter.Attempts,
		"first_attempt_at", firstAttempt,
		"locked_until", lockedUntil,
		"created_at", record.CreatedAt.UnixNano(),
		"updated_at", record.UpdatedAt.UnixNano(),
	)
	pipe.PExpire(ctx, key, ttl)
}

func ttlFor(state lockout.State, now time.Time, window time.Duration) time.Duration {
	if window <= 0 {
		window = lockout.DefaultPolicy().Window
	}
	ttl := window
	if remaining := lockout.RemainingLock(state, now); remaining > ttl {
		ttl = remaining
	}
	return ttl + ttlSlack
}

func decodeRecord(identifier string, fields map[string]string) (*models.RateLimit, error) {
	recordID, err := uuid.Parse(fields["id"])
	if err != nil {
		return nil, fmt.Errorf("decode rate limit id: %w", err)
	}
	attempts, err := strconv.Atoi(fields["attempts"])
	if err != nil {
		return nil, fmt.Errorf("decode rate limit attempts: %w", err)
	}

	record := &models.RateLimit{
		ID:         id.RateLimitID(recordID),
		Identifier: identifier,
	}
	record.Counter.Attempts = attempts
	record.Counter.FirstAttemptAt = unixNano(fields["first_attempt_at"])
	record.CreatedAt = unixNano(fields["created_at"])
	record.UpdatedAt = unixNano(fields["updated_at"])
	if lu := unixNano(fields["locked_until"]); !lu.IsZero() {
		record.Counter.LockedUntil = &lu
	}
	return record, nil
}

func unixNano(raw string) time.Time {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
