package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks UserStore,SessionStore,AuditPublisher

import (
	"context"
	"time"

	"cmsguard/internal/auth/models"
	id "cmsguard/pkg/domain"
	"cmsguard/pkg/email"
	"cmsguard/pkg/platform/audit"
)

// UserStore persists accounts. Lookups of missing users return sentinel.ErrNotFound.
type UserStore interface {
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	FindByID(ctx context.Context, userID id.UserID) (*models.User, error)
	Save(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
}

// SessionStore persists sessions by token. Lookups of missing tokens return
// sentinel.ErrNotFound; deleting a missing token is not an error.
type SessionStore interface {
	Create(ctx context.Context, session *models.Session) error
	FindByToken(ctx context.Context, token string) (*models.Session, error)
	Delete(ctx context.Context, token string) error
	DeleteByUser(ctx context.Context, userID id.UserID, exceptToken string) (int, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// AuditPublisher records audit entries for security-relevant operations.
type AuditPublisher interface {
	Record(ctx context.Context, entry audit.Entry)
}

type Hasher interface {
	Hash(pw string) (string, error)
	Compare(hash, pw string) bool
}

type Mailer = email.Sender
