package audit

import (
	"context"
	"time"

	id "cmsguard/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers events with legal or contractual significance
	// such as account deletion and role changes.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events relevant to security monitoring and forensics.
	// Examples: login failures, lockouts, CSRF and permission denials.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine activity that is useful for debugging.
	CategoryOperations EventCategory = "operations"
)

// Action is the closed set of audited actions.
type Action string

const (
	// Auth events
	ActionLoginSucceeded          Action = "login_succeeded"
	ActionLoginFailed             Action = "login_failed"
	ActionLogout                  Action = "logout"
	ActionAccountLocked           Action = "account_locked"
	ActionPasswordChanged         Action = "password_changed"
	ActionPasswordResetByAdmin    Action = "password_reset_by_admin"
	ActionEmailVerificationIssued Action = "email_verification_issued"
	ActionEmailVerified           Action = "email_verified"
	ActionSessionExpired          Action = "session_expired"
	ActionSessionDeviceChanged    Action = "session_device_changed"

	// Rate limit events
	ActionRateLimitLocked Action = "rate_limit_locked"
	ActionRateLimitReset  Action = "rate_limit_reset"

	// Access control events
	ActionPermissionDenied Action = "permission_denied"
	ActionCSRFRejected     Action = "csrf_rejected"

	// Administrative events
	ActionUserCreated     Action = "user_created"
	ActionUserDeleted     Action = "user_deleted"
	ActionRoleChanged     Action = "role_changed"
	ActionSettingsChanged Action = "settings_changed"

	// Content events
	ActionContentCreated Action = "content_created"
	ActionContentUpdated Action = "content_updated"
	ActionContentDeleted Action = "content_deleted"
)

var knownActions = map[Action]EventCategory{
	ActionUserCreated:     CategoryCompliance,
	ActionUserDeleted:     CategoryCompliance,
	ActionRoleChanged:     CategoryCompliance,
	ActionSettingsChanged: CategoryCompliance,
	ActionContentDeleted:  CategoryCompliance,

	ActionLoginFailed:          CategorySecurity,
	ActionAccountLocked:        CategorySecurity,
	ActionPasswordChanged:      CategorySecurity,
	ActionPasswordResetByAdmin: CategorySecurity,
	ActionRateLimitLocked:      CategorySecurity,
	ActionRateLimitReset:       CategorySecurity,
	ActionPermissionDenied:     CategorySecurity,
	ActionCSRFRejected:         CategorySecurity,
	ActionSessionDeviceChanged: CategorySecurity,

	ActionLoginSucceeded:          CategoryOperations,
	ActionLogout:                  CategoryOperations,
	ActionEmailVerificationIssued: CategoryOperations,
	ActionEmailVerified:           CategoryOperations,
	ActionSessionExpired:          CategoryOperations,
	ActionContentCreated:          CategoryOperations,
	ActionContentUpdated:          CategoryOperations,
}

// IsValid reports whether a is a known action.
func (a Action) IsValid() bool {
	_, ok := knownActions[a]
	return ok
}

// Category returns the EventCategory for this action.
// Unknown actions default to CategoryOperations.
func (a Action) Category() EventCategory {
	if cat, ok := knownActions[a]; ok {
		return cat
	}
	return CategoryOperations
}

// IsCritical reports whether a belongs to the critical set: deletions, role and
// settings changes, permission denials, account locks and admin password resets.
func (a Action) IsCritical() bool {
	switch a {
	case ActionUserDeleted, ActionContentDeleted, ActionRoleChanged,
		ActionPermissionDenied, ActionSettingsChanged, ActionAccountLocked,
		ActionPasswordResetByAdmin:
		return true
	}
	return false
}

func (a Action) String() string {
	return string(a)
}

// Entry is what a use case hands to the audit sink. Context-derived fields
// (IP, user agent, request ID) are filled in when left empty.
type Entry struct {
	ActorID    id.UserID      `json:"actor_user_id"`
	Action     Action         `json:"action"`
	TargetType string         `json:"target_type"`
	TargetID   string         `json:"target_id,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	IPAddress  string         `json:"ip_address,omitempty"`
	UserAgent  string         `json:"user_agent,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`
}

// Event is a persisted audit record. Events are append-only.
type Event struct {
	ID id.AuditLogID `json:"id"`
	Entry
	CreatedAt time.Time `json:"created_at"`
}

// NewEvent stamps an entry with a fresh ID and creation time.
func NewEvent(entry Entry, now time.Time) Event {
	return Event{
		ID:        id.NewAuditLogID(),
		Entry:     entry,
		CreatedAt: now,
	}
}

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 500
)

// Page selects a window of a newest-first listing.
type Page struct {
	Limit  int
	Offset int
}

// Normalize applies the default limit and clamps to MaxPageLimit.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// Store persists audit events. List methods return newest first.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByActor(ctx context.Context, actorID id.UserID, page Page) ([]Event, error)
	ListByAction(ctx context.Context, action Action, page Page) ([]Event, error)
	ListByActions(ctx context.Context, actions []Action, page Page) ([]Event, error)
	ListByTargetType(ctx context.Context, targetType string, page Page) ([]Event, error)
	ListAll(ctx context.Context, page Page) ([]Event, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Emitter accepts fully built events. Publishers and sinks implement it.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
}

// Sink is the fire-and-forget entry point used by domain services.
type Sink interface {
	Record(ctx context.Context, entry Entry)
}

// NopSink discards entries.
type NopSink struct{}

func (NopSink) Record(context.Context, Entry) {}
