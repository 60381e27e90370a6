// Package ports defines shared interfaces for the ratelimit module.
// Interfaces are placed here when consumed by multiple packages to avoid duplication.
package ports

import (
	"context"
	"log/slog"
	"time"

	"cmsguard/internal/lockout"
	"cmsguard/internal/ratelimit/models"
	"cmsguard/pkg/attrs"
	"cmsguard/pkg/platform/audit"
	"cmsguard/pkg/requestcontext"
)

// AuditPublisher records audit entries for security-relevant operations.
type AuditPublisher = audit.Sink

// Store persists rate limit records keyed by identifier.
type Store interface {
	// Get returns the record for identifier, or nil when none exists.
	Get(ctx context.Context, identifier string) (*models.RateLimit, error)

	// Save inserts or replaces the record.
	Save(ctx context.Context, record *models.RateLimit) error

	// RecordAttempt atomically applies policy.Record to the stored state and
	// returns the result. lockedNow reports whether this call applied the lock.
	RecordAttempt(ctx context.Context, identifier string, now time.Time, policy lockout.Policy) (record *models.RateLimit, lockedNow bool, err error)

	// Delete removes the record. Deleting a missing record is not an error.
	Delete(ctx context.Context, identifier string) error

	// DeleteStale removes records with no active lock whose window started
	// before cutoff.
	DeleteStale(ctx context.Context, now, cutoff time.Time) (int, error)
}

// LogAudit is a shared helper for logging audit events across ratelimit packages.
// It logs to both the structured logger and the audit publisher if available.
func LogAudit(ctx context.Context, logger *slog.Logger, publisher AuditPublisher, action audit.Action, attrList ...any) {
	requestID := requestcontext.RequestID(ctx)
	if requestID != "" {
		attrList = append(attrList, "request_id", requestID)
	}

	args := append(attrList, "event", string(action), "log_type", "audit")

	if logger != nil {
		logger.InfoContext(ctx, string(action), args...)
	}

	if publisher == nil {
		return
	}

	publisher.Record(ctx, audit.Entry{
		Action:     action,
		TargetType: "rate_limit",
		TargetID:   attrs.String(attrList, "identifier"),
		RequestID:  requestID,
		Details:    attrs.Map(attrList, "identifier", "request_id"),
	})
}
