// Package audit records security-relevant actions and serves the read side of
// the audit trail.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	id "cmsguard/pkg/domain"
	dErrors "cmsguard/pkg/domain-errors"
	audit "cmsguard/pkg/platform/audit"
	"cmsguard/pkg/platform/audit/publisher"
	"cmsguard/pkg/requestcontext"
)

// DefaultRetention keeps a year of history.
const DefaultRetention = 365 * 24 * time.Hour

type Service struct {
	store     audit.Store
	primary   audit.Emitter
	forwards  []audit.Emitter
	logger    *slog.Logger
	metrics   *Metrics
	retention time.Duration
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithPublisher replaces the synchronous store writer, e.g. with an async
// publisher.Publisher over the same store.
func WithPublisher(e audit.Emitter) Option {
	return func(s *Service) {
		s.primary = e
	}
}

// WithForward adds a secondary sink. Its failures are logged and counted but
// never fail LogAuditEvent.
func WithForward(e audit.Emitter) Option {
	return func(s *Service) {
		if e != nil {
			s.forwards = append(s.forwards, e)
		}
	}
}

func WithRetention(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.retention = d
		}
	}
}

func New(store audit.Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("audit store is required")
	}
	svc := &Service{
		store:     store,
		logger:    slog.Default(),
		retention: DefaultRetention,
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.primary == nil {
		svc.primary = publisher.NewPublisher(store, publisher.WithLogger(svc.logger))
	}
	return svc, nil
}

// LogAuditEvent persists entry as an immutable event and returns its ID. IP,
// user agent and request ID are taken from ctx when the entry leaves them empty.
func (s *Service) LogAuditEvent(ctx context.Context, entry audit.Entry) (id.AuditLogID, error) {
	if !entry.Action.IsValid() {
		return id.AuditLogID{}, dErrors.New(dErrors.CodeValidation, "unknown audit action")
	}
	if entry.TargetType == "" {
		return id.AuditLogID{}, dErrors.New(dErrors.CodeValidation, "target type is required")
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

	event := audit.NewEvent(entry, requestcontext.Now(ctx))
	if err := s.primary.Emit(ctx, event); err != nil {
		return id.AuditLogID{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist audit event")
	}
	if s.metrics != nil {
		s.metrics.EventsRecorded.WithLabelValues(string(event.Action.Category())).Inc()
	}

	for _, fwd := range s.forwards {
		if err := fwd.Emit(ctx, event); err != nil {
			if s.metrics != nil {
				s.metrics.ForwardFailures.Inc()
			}
			s.logger.WarnContext(ctx, "failed to forward audit event",
				"event", string(event.Action),
				"log_type", "audit",
				"audit_id", event.ID.String(),
				"error", err,
			)
		}
	}
	return event.ID, nil
}

// Record is the fire-and-forget form of LogAuditEvent used by domain services.
// Failures reach operators through the error log and a counter.
func (s *Service) Record(ctx context.Context, entry audit.Entry) {
	if _, err := s.LogAuditEvent(ctx, entry); err != nil {
		if s.metrics != nil {
			s.metrics.WriteFailures.Inc()
		}
		s.logger.ErrorContext(ctx, "failed to record audit event",
			"event", string(entry.Action),
			"log_type", "audit",
			"user_id", entry.ActorID.String(),
			"error", err,
		)
	}
}

func (s *Service) ByActor(ctx context.Context, actorID id.UserID, page audit.Page) ([]audit.Event, error) {
	return wrapList(s.store.ListByActor(ctx, actorID, page))
}

func (s *Service) ByAction(ctx context.Context, action audit.Action, page audit.Page) ([]audit.Event, error) {
	return wrapList(s.store.ListByAction(ctx, action, page))
}

// ByActions lists events matching any of actions.
func (s *Service) ByActions(ctx context.Context, actions []audit.Action, page audit.Page) ([]audit.Event, error) {
	if len(actions) == 1 {
		return s.ByAction(ctx, actions[0], page)
	}
	return wrapList(s.store.ListByActions(ctx, actions, page))
}

func (s *Service) ByTargetType(ctx context.Context, targetType string, page audit.Page) ([]audit.Event, error) {
	return wrapList(s.store.ListByTargetType(ctx, targetType, page))
}

func (s *Service) All(ctx context.Context, page audit.Page) ([]audit.Event, error) {
	return wrapList(s.store.ListAll(ctx, page))
}

// Critical returns up to limit of the newest critical events. It reads the
// newest 2*limit events and filters them here rather than in the store, so a
// window dominated by routine events can yield fewer than limit results. The
// window is read as two pages of limit so it stays 2*limit at MaxPageLimit.
func (s *Service) Critical(ctx context.Context, limit int) ([]audit.Event, error) {
	limit = audit.Page{Limit: limit}.Normalize().Limit

	critical := make([]audit.Event, 0, limit)
	for offset := 0; offset < 2*limit; offset += limit {
		events, err := s.All(ctx, audit.Page{Limit: limit, Offset: offset})
		if err != nil {
			return nil, err
		}
		for _, e := range events {
			if !e.Action.IsCritical() {
				continue
			}
			critical = append(critical, e)
			if len(critical) == limit {
				return critical, nil
			}
		}
		if len(events) < limit {
			break
		}
	}
	return critical, nil
}

// Purge deletes events older than the retention period.
func (s *Service) Purge(ctx context.Context) (int, error) {
	cutoff := requestcontext.Now(ctx).Add(-s.retention)
	deleted, err := s.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to purge audit events")
	}
	if s.metrics != nil {
		s.metrics.RetentionDeleted.Add(float64(deleted))
	}
	return int(deleted), nil
}

func wrapList(events []audit.Event, err error) ([]audit.Event, error) {
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list audit events")
	}
	return events, nil
}
