// Package domain holds typed identifiers shared across modules. Distinct types keep
// a user ID from being passed where an audit entry ID is expected.
package domain

import (
	"github.com/google/uuid"

	dErrors "cmsguard/pkg/domain-errors"
)

type (
	UserID      uuid.UUID
	AuditLogID  uuid.UUID
	RateLimitID uuid.UUID
)

// NewUserID returns a random user ID.
func NewUserID() UserID { return UserID(uuid.New()) }

// NewAuditLogID returns a random audit log entry ID.
func NewAuditLogID() AuditLogID { return AuditLogID(uuid.New()) }

// NewRateLimitID returns a random rate limit record ID.
func NewRateLimitID() RateLimitID { return RateLimitID(uuid.New()) }

func (id UserID) String() string      { return uuid.UUID(id).String() }
func (id AuditLogID) String() string  { return uuid.UUID(id).String() }
func (id RateLimitID) String() string { return uuid.UUID(id).String() }

func (id UserID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id AuditLogID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id RateLimitID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

func (id UserID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id *UserID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

func (id AuditLogID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id *AuditLogID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

// ParseUserID parses a user ID at a trust boundary.
func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s, "user_id")
	return UserID(u), err
}

// ParseAuditLogID parses an audit log entry ID at a trust boundary.
func ParseAuditLogID(s string) (AuditLogID, error) {
	u, err := parseUUID(s, "audit_log_id")
	return AuditLogID(u), err
}

// ParseRateLimitID parses a rate limit record ID at a trust boundary.
func ParseRateLimitID(s string) (RateLimitID, error) {
	u, err := parseUUID(s, "rate_limit_id")
	return RateLimitID(u), err
}

func parseUUID(s, field string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+field)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" cannot be nil")
	}
	return u, nil
}
