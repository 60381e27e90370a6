package service

import (
	"context"

	id "cmsguard/pkg/domain"
	"cmsguard/pkg/platform/audit"
	"cmsguard/pkg/requestcontext"
)

// logAudit writes an audit-style log line and hands the entry to the publisher.
// IP, user agent and request ID default to the request context.
func (s *Service) logAudit(ctx context.Context, action audit.Action, actorID id.UserID, entry audit.Entry) {
	entry.Action = action
	entry.ActorID = actorID
	if entry.TargetType == "" {
		entry.TargetType = "user"
		entry.TargetID = actorID.String()
	}
	if entry.IPAddress == "" {
		entry.IPAddress = requestcontext.ClientIP(ctx)
	}
	if entry.UserAgent == "" {
		entry.UserAgent = requestcontext.UserAgent(ctx)
	}
	if entry.RequestID == "" {
		entry.RequestID = requestcontext.RequestID(ctx)
	}

	args := []any{
		"event", string(action),
		"log_type", "audit",
		"user_id", actorID.String(),
		"target_type", entry.TargetType,
		"target_id", entry.TargetID,
	}
	if entry.RequestID != "" {
		args = append(args, "request_id", entry.RequestID)
	}
	for k, v := range entry.Details {
		args = append(args, k, v)
	}
	s.logger.InfoContext(ctx, string(action), args...)

	if s.auditPublisher == nil {
		return
	}
	s.auditPublisher.Record(ctx, entry)
}
