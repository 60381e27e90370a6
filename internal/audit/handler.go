package audit

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	id "cmsguard/pkg/domain"
	dErrors "cmsguard/pkg/domain-errors"
	audit "cmsguard/pkg/platform/audit"
	"cmsguard/pkg/platform/httputil"
	strutil "cmsguard/pkg/platform/strings"
)

// Reader is the query side of Service.
type Reader interface {
	ByActor(ctx context.Context, actorID id.UserID, page audit.Page) ([]audit.Event, error)
	ByActions(ctx context.Context, actions []audit.Action, page audit.Page) ([]audit.Event, error)
	ByTargetType(ctx context.Context, targetType string, page audit.Page) ([]audit.Event, error)
	All(ctx context.Context, page audit.Page) ([]audit.Event, error)
	Critical(ctx context.Context, limit int) ([]audit.Event, error)
}

type Handler struct {
	service Reader
	logger  *slog.Logger
}

func NewHandler(service Reader, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the admin audit routes. Callers wrap r with admin auth.
func (h *Handler) Register(r chi.Router) {
	r.Get("/admin/audit", h.HandleList)
}

type listResponse struct {
	Events []audit.Event `json:"events"`
	Count  int           `json:"count"`
}

// HandleList serves GET /admin/audit. Filters are mutually exclusive and
// checked in order: critical, actor, action, target_type.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	page, err := parsePage(q.Get("limit"), q.Get("offset"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var events []audit.Event
	switch {
	case q.Get("critical") == "true":
		events, err = h.service.Critical(ctx, page.Limit)
	case q.Get("actor") != "":
		actorID, parseErr := id.ParseUserID(q.Get("actor"))
		if parseErr != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid actor id"))
			return
		}
		events, err = h.service.ByActor(ctx, actorID, page)
	case q.Get("action") != "":
		actions, parseErr := parseActions(q.Get("action"))
		if parseErr != nil {
			httputil.WriteError(w, parseErr)
			return
		}
		events, err = h.service.ByActions(ctx, actions, page)
	case q.Get("target_type") != "":
		events, err = h.service.ByTargetType(ctx, q.Get("target_type"), page)
	default:
		events, err = h.service.All(ctx, page)
	}
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list audit events", "error", err)
		httputil.WriteError(w, err)
		return
	}

	if events == nil {
		events = []audit.Event{}
	}
	httputil.WriteJSON(w, http.StatusOK, listResponse{Events: events, Count: len(events)})
}

func parsePage(limit, offset string) (audit.Page, error) {
	var page audit.Page
	if limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return audit.Page{}, dErrors.New(dErrors.CodeBadRequest, "limit must be a non-negative integer")
		}
		page.Limit = n
	}
	if offset != "" {
		n, err := strconv.Atoi(offset)
		if err != nil || n < 0 {
			return audit.Page{}, dErrors.New(dErrors.CodeBadRequest, "offset must be a non-negative integer")
		}
		page.Offset = n
	}
	return page.Normalize(), nil
}

func parseActions(raw string) ([]audit.Action, error) {
	parts := strutil.SplitCSVLower(raw)
	if len(parts) == 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "action is required")
	}
	actions := make([]audit.Action, 0, len(parts))
	for _, p := range parts {
		a := audit.Action(p)
		if !a.IsValid() {
			return nil, dErrors.New(dErrors.CodeBadRequest, "unknown action: "+string(a))
		}
		actions = append(actions, a)
	}
	return actions, nil
}
