package models

import (
	"net"
	"strings"

	id "cmsguard/pkg/domain"
)

// Actions guarded by rate limits. The action is the last identifier segment.
const (
	ActionLogin             = "login"
	ActionChangePassword    = "change_password"
	ActionEmailVerification = "email_verification"
	ActionPasswordStrength  = "password_strength"
	ActionVerifyEmail       = "verify_email"
	// ActionSession counts requests to session-protected routes that fail
	// authentication.
	ActionSession = "session"
)

// SanitizeKeySegment escapes delimiter characters in rate limit key segments
// to prevent key collision attacks where user-controlled identifiers containing
// ':' could manipulate adjacent rate limit buckets.
//
// Example: An identifier "user:admin" would become "user_admin", preventing
// it from being interpreted as a separate key segment.
func SanitizeKeySegment(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}

// NewIdentifier joins subject and action as "subject:action". An IP subject keeps
// its colons so IPv6 addresses stay readable; the action is always the segment
// after the last colon.
func NewIdentifier(subject, action string) string {
	if net.ParseIP(subject) == nil {
		subject = SanitizeKeySegment(subject)
	}
	return subject + ":" + SanitizeKeySegment(action)
}

// IPIdentifier keys a limit by client IP, e.g. "203.0.113.5:login".
func IPIdentifier(ip, action string) string {
	if ip == "" {
		ip = "unknown"
	}
	return NewIdentifier(ip, action)
}

// UserIdentifier keys a limit by account, e.g. "user:<uuid>:change_password".
func UserIdentifier(userID id.UserID, action string) string {
	return "user:" + NewIdentifier(userID.String(), action)
}

// ActionOf returns the action segment of an identifier.
func ActionOf(identifier string) string {
	if i := strings.LastIndexByte(identifier, ':'); i >= 0 {
		return identifier[i+1:]
	}
	return ""
}
