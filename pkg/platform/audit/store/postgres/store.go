package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	id "cmsguard/pkg/domain"
	audit "cmsguard/pkg/platform/audit"
	txcontext "cmsguard/pkg/platform/tx"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Store implements audit.Store on the audit_logs table.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const selectColumns = `
	SELECT id, actor_user_id, action, target_type, target_id, details,
		   ip_address, user_agent, request_id, created_at
	FROM audit_logs`

// Append inserts an event. Inserts are idempotent on the event ID.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	var details []byte
	if event.Details != nil {
		var err error
		details, err = json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
	}

	var actorID *uuid.UUID
	if !event.ActorID.IsNil() {
		uid := uuid.UUID(event.ActorID)
		actorID = &uid
	}

	query := `
		INSERT INTO audit_logs (
			id, actor_user_id, action, target_type, target_id, details,
			ip_address, user_agent, request_id, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(event.ID),
		actorID,
		string(event.Action),
		event.TargetType,
		event.TargetID,
		details,
		event.IPAddress,
		event.UserAgent,
		event.RequestID,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *Store) ListByActor(ctx context.Context, actorID id.UserID, page audit.Page) ([]audit.Event, error) {
	return s.query(ctx, `WHERE actor_user_id = $1`, page, uuid.UUID(actorID))
}

func (s *Store) ListByAction(ctx context.Context, action audit.Action, page audit.Page) ([]audit.Event, error) {
	return s.query(ctx, `WHERE action = $1`, page, string(action))
}

// ListByActions matches any of the given actions.
func (s *Store) ListByActions(ctx context.Context, actions []audit.Action, page audit.Page) ([]audit.Event, error) {
	names := make([]string, len(actions))
	for i, a := range actions {
		names[i] = string(a)
	}
	return s.query(ctx, `WHERE action = ANY($1)`, page, pq.Array(names))
}

func (s *Store) ListByTargetType(ctx context.Context, targetType string, page audit.Page) ([]audit.Event, error) {
	return s.query(ctx, `WHERE target_type = $1`, page, targetType)
}

// ListAll returns all audit events (admin only).
func (s *Store) ListAll(ctx context.Context, page audit.Page) ([]audit.Event, error) {
	return s.query(ctx, ``, page)
}

// DeleteBefore removes events older than cutoff. Used by the retention sweep.
func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execer(ctx).ExecContext(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete audit events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete audit events rows affected: %w", err)
	}
	return n, nil
}

func (s *Store) query(ctx context.Context, where string, page audit.Page, args ...any) ([]audit.Event, error) {
	page = page.Normalize()
	n := len(args)
	query := fmt.Sprintf("%s %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d",
		selectColumns, where, n+1, n+2)
	args = append(args, page.Limit, page.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// scanEvents scans multiple rows into audit.Event slice.
func scanEvents(rows *sql.Rows) ([]audit.Event, error) {
	events := []audit.Event{}

	for rows.Next() {
		var (
			event         audit.Event
			eventID       uuid.UUID
			actorNullable *uuid.UUID
			action        string
			detailsRaw    []byte
		)

		err := rows.Scan(
			&eventID,
			&actorNullable,
			&action,
			&event.TargetType,
			&event.TargetID,
			&detailsRaw,
			&event.IPAddress,
			&event.UserAgent,
			&event.RequestID,
			&event.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}

		event.ID = id.AuditLogID(eventID)
		event.Action = audit.Action(action)
		if actorNullable != nil {
			event.ActorID = id.UserID(*actorNullable)
		}
		if len(detailsRaw) > 0 {
			if err := json.Unmarshal(detailsRaw, &event.Details); err != nil {
				return nil, fmt.Errorf("decode audit details: %w", err)
			}
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}

	return events, nil
}
