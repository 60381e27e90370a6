package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"cmsguard/internal/auth/models"
	"cmsguard/internal/platform/postgres"
	id "cmsguard/pkg/domain"
	"cmsguard/pkg/platform/sentinel"
	txcontext "cmsguard/pkg/platform/tx"
)

// PostgresStore persists accounts in the users table.
type PostgresStore struct {
	db *sql.DB
}

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

const userColumns = `id, username, email, password_hash, role, is_active,
	failed_login_attempts, failed_attempt_window_start, locked_until,
	last_login_at, password_changed_at, email_verified,
	verification_token, verification_created_at, verification_expires_at, verification_used,
	created_at, updated_at`

func (s *PostgresStore) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE lower(username) = lower($1)`
	return s.findOne(ctx, query, username)
}

func (s *PostgresStore) FindByID(ctx context.Context, userID id.UserID) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return s.findOne(ctx, query, uuid.UUID(userID))
}

func (s *PostgresStore) findOne(ctx context.Context, query string, arg any) (*models.User, error) {
	user, err := scanUser(s.execer(ctx).QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) Save(ctx context.Context, user *models.User) error {
	query := `INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`
	_, err := s.execer(ctx).ExecContext(ctx, query, userArgs(user)...)
	if err != nil {
		if taken := conflictError(err); taken != nil {
			return taken
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// conflictError maps a unique violation on one of the case-folded indexes to
// the matching models error; nil when err is not a unique violation.
func conflictError(err error) error {
	constraint, ok := postgres.UniqueViolation(err)
	if !ok {
		return nil
	}
	switch constraint {
	case "users_email_lower_key":
		return models.ErrEmailTaken
	case "users_username_lower_key":
		return models.ErrUsernameTaken
	default:
		return sentinel.ErrConflict
	}
}

func (s *PostgresStore) Update(ctx context.Context, user *models.User) error {
	query := `
		UPDATE users SET
			username = $2,
			email = $3,
			password_hash = $4,
			role = $5,
			is_active = $6,
			failed_login_attempts = $7,
			failed_attempt_window_start = $8,
			locked_until = $9,
			last_login_at = $10,
			password_changed_at = $11,
			email_verified = $12,
			verification_token = $13,
			verification_created_at = $14,
			verification_expires_at = $15,
			verification_used = $16,
			updated_at = $17
		WHERE id = $1
	`
	args := userArgs(user)
	// created_at is immutable; drop it so every placeholder is referenced.
	args = append(args[:16], user.UpdatedAt)
	res, err := s.execer(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		if taken := conflictError(err); taken != nil {
			return taken
		}
		return fmt.Errorf("update user: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func userArgs(u *models.User) []any {
	var (
		windowStart sql.NullTime
		token       sql.NullString
		tokenAt     sql.NullTime
		tokenExp    sql.NullTime
		tokenUsed   bool
	)
	if u.Lockout.Attempts > 0 {
		windowStart = sql.NullTime{Time: u.Lockout.FirstAttemptAt, Valid: true}
	}
	if v := u.Verification; v != nil {
		token = sql.NullString{String: v.Token, Valid: true}
		tokenAt = sql.NullTime{Time: v.CreatedAt, Valid: true}
		tokenExp = sql.NullTime{Time: v.ExpiresAt, Valid: true}
		tokenUsed = v.IsUsed
	}
	return []any{
		uuid.UUID(u.ID),
		u.Username,
		u.Email,
		u.PasswordHash,
		string(u.Role),
		u.IsActive,
		u.Lockout.Attempts,
		windowStart,
		nullTime(u.Lockout.LockedUntil),
		nullTime(u.LastLoginAt),
		nullTime(u.PasswordChangedAt),
		u.EmailVerified,
		token,
		tokenAt,
		tokenExp,
		tokenUsed,
		u.CreatedAt,
		u.UpdatedAt,
	}
}

func scanUser(row *sql.Row) (*models.User, error) {
	var (
		rawID       uuid.UUID
		role        string
		windowStart sql.NullTime
		lockedUntil sql.NullTime
		lastLogin   sql.NullTime
		pwChanged   sql.NullTime
		token       sql.NullString
		tokenAt     sql.NullTime
		tokenExp    sql.NullTime
		tokenUsed   bool
		u           models.User
	)
	if err := row.Scan(
		&rawID, &u.Username, &u.Email, &u.PasswordHash, &role, &u.IsActive,
		&u.Lockout.Attempts, &windowStart, &lockedUntil,
		&lastLogin, &pwChanged, &u.EmailVerified,
		&token, &tokenAt, &tokenExp, &tokenUsed,
		&u.CreatedAt, &u.UpdatedAt,
	); err != nil {
		return nil, err
	}

	u.ID = id.UserID(rawID)
	u.Role = models.Role(role)
	if windowStart.Valid {
		u.Lockout.FirstAttemptAt = windowStart.Time
	}
	u.Lockout.LockedUntil = timePtr(lockedUntil)
	u.LastLoginAt = timePtr(lastLogin)
	u.PasswordChangedAt = timePtr(pwChanged)
	if token.Valid {
		u.Verification = &models.EmailVerificationToken{
			Token:     token.String,
			CreatedAt: tokenAt.Time,
			ExpiresAt: tokenExp.Time,
			IsUsed:    tokenUsed,
		}
	}
	return &u, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
