package models

import (
	"time"

	id "cmsguard/pkg/domain"
)

// DefaultSessionTTL is how long a login stays valid.
const DefaultSessionTTL = 24 * time.Hour

// Session is an opaque-token login. The CSRF secret is bound to the session and
// echoed to the client once, at login.
type Session struct {
	Token             string
	UserID            id.UserID
	CSRFSecret        string
	IPAddress         string
	UserAgent         string
	DeviceName        string
	DeviceFingerprint string
	CreatedAt         time.Time
	ExpiresAt         time.Time
}

// IsValid reports whether the session has not yet expired.
func (s *Session) IsValid(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// TTL is the time left until expiry, or zero.
func (s *Session) TTL(now time.Time) time.Duration {
	return max(s.ExpiresAt.Sub(now), 0)
}
