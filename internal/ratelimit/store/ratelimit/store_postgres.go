package ratelimit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cmsguard/internal/lockout"
	"cmsguard/internal/ratelimit/models"
	id "cmsguard/pkg/domain"
	txcontext "cmsguard/pkg/platform/tx"

	"github.com/google/uuid"
)

// PostgresStore persists rate limit records in PostgreSQL.
// Apart from RecordAttempt this store is pure I/O; RecordAttempt encodes the
// lockout transition in SQL so concurrent increments cannot skip the threshold.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed rate limit store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const returningColumns = `id, identifier, attempts, first_attempt_at, locked_until, created_at, updated_at`

func (s *PostgresStore) Get(ctx context.Context, identifier string) (*models.RateLimit, error) {
	query := `SELECT ` + returningColumns + ` FROM rate_limits WHERE identifier = $1`
	record, err := scanRateLimit(s.execer(ctx).QueryRowContext(ctx, query, identifier))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get rate limit: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) Save(ctx context.Context, record *models.RateLimit) error {
	if record == nil {
		return fmt.Errorf("rate limit record is required")
	}
	query := `
		INSERT INTO rate_limits (id, identifier, attempts, first_attempt_at, locked_until, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (identifier) DO UPDATE SET
			attempts = EXCLUDED.attempts,
			first_attempt_at = EXCLUDED.first_attempt_at,
			locked_until = EXCLUDED.locked_until,
			updated_at = EXCLUDED.updated_at
	`
	recordID := record.ID
	if recordID.IsNil() {
		recordID = id.NewRateLimitID()
	}
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(recordID),
		record.Identifier,
		record.Counter.Attempts,
		record.Counter.FirstAttemptAt,
		record.Counter.LockedUntil,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save rate limit: %w", err)
	}
	return nil
}

// RecordAttempt applies one attempt in a single upsert. The CASE expressions
// mirror lockout.Policy.Record:
//   - an expired lock, an empty counter, or a stale window restarts at 1
//   - an active lock keeps its deadline while attempts keep counting
//   - reaching MaxAttempts sets locked_until in the same write
func (s *PostgresStore) RecordAttempt(ctx context.Context, identifier string, now time.Time, policy lockout.Policy) (*models.RateLimit, bool, error) {
	query := `
		INSERT INTO rate_limits (id, identifier, attempts, first_attempt_at, locked_until, created_at, updated_at)
		VALUES (
			$1, $2, 1, $3,
			CASE WHEN 1 >= $4 THEN $3::timestamptz + make_interval(secs => $6) ELSE NULL END,
			$3, $3
		)
		ON CONFLICT (identifier) DO UPDATE SET
			attempts = CASE
				WHEN rate_limits.locked_until > $3 THEN rate_limits.attempts + 1
				WHEN rate_limits.locked_until IS NOT NULL
					OR rate_limits.attempts = 0
					OR $3::timestamptz - rate_limits.first_attempt_at > make_interval(secs => $5) THEN 1
				ELSE rate_limits.attempts + 1
			END,
			first_attempt_at = CASE
				WHEN rate_limits.locked_until > $3 THEN rate_limits.first_attempt_at
				WHEN rate_limits.locked_until IS NOT NULL
					OR rate_limits.attempts = 0
					OR $3::timestamptz - rate_limits.first_attempt_at > make_interval(secs => $5) THEN $3
				ELSE rate_limits.first_attempt_at
			END,
			locked_until = CASE
				WHEN rate_limits.locked_until > $3 THEN rate_limits.locked_until
				WHEN rate_limits.locked_until IS NOT NULL
					OR rate_limits.attempts = 0
					OR $3::timestamptz - rate_limits.first_attempt_at > make_interval(secs => $5)
					THEN CASE WHEN 1 >= $4 THEN $3::timestamptz + make_interval(secs => $6) ELSE NULL END
				WHEN rate_limits.attempts + 1 >= $4 THEN $3::timestamptz + make_interval(secs => $6)
				ELSE NULL
			END,
			updated_at = $3
		RETURNING ` + returningColumns

	record, err := scanRateLimit(s.execer(ctx).QueryRowContext(ctx, query,
		uuid.New(),
		identifier,
		now,
		policy.MaxAttempts,
		policy.Window.Seconds(),
		policy.LockDuration.Seconds(),
	))
	if err != nil {
		return nil, false, fmt.Errorf("record rate limit attempt: %w", err)
	}

	// Attempts only ever grow by one, and the lock is applied when they first
	// reach MaxAttempts, so this call locked iff it produced exactly that count.
	lockedNow := lockout.IsLocked(record.Counter, now) && record.Counter.Attempts == policy.MaxAttempts
	return record, lockedNow, nil
}

func (s *PostgresStore) Delete(ctx context.Context, identifier string) error {
	_, err := s.execer(ctx).ExecContext(ctx, `DELETE FROM rate_limits WHERE identifier = $1`, identifier)
	if err != nil {
		return fmt.Errorf("delete rate limit: %w", err)
	}
	return nil
}

// DeleteStale removes records whose lock has lapsed and whose window started
// before cutoff. The cutoff is provided by the caller to keep the window
// duration out of the store.
func (s *PostgresStore) DeleteStale(ctx context.Context, now, cutoff time.Time) (int, error) {
	query := `
		DELETE FROM rate_limits
		WHERE (locked_until IS NULL OR locked_until <= $1)
		  AND (attempts = 0 OR first_attempt_at < $2)
	`
	result, err := s.execer(ctx).ExecContext(ctx, query, now, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete stale rate limits: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete stale rate limits rows affected: %w", err)
	}
	return int(rows), nil
}

type rateLimitRow interface {
	Scan(dest ...any) error
}

func scanRateLimit(row rateLimitRow) (*models.RateLimit, error) {
	var (
		record      models.RateLimit
		recordID    uuid.UUID
		lockedUntil sql.NullTime
	)
	if err := row.Scan(
		&recordID,
		&record.Identifier,
		&record.Counter.Attempts,
		&record.Counter.FirstAttemptAt,
		&lockedUntil,
		&record.CreatedAt,
		&record.UpdatedAt,
	); err != nil {
		return nil, err
	}
	record.ID = id.RateLimitID(recordID)
	if lockedUntil.Valid {
		t := lockedUntil.Time
		record.Counter.LockedUntil = &t
	}
	return &record, nil
}
