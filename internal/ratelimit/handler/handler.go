// Package handler exposes operator endpoints for inspecting and clearing rate limits.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"cmsguard/internal/ratelimit/models"
	"cmsguard/pkg/platform/httputil"
	request "cmsguard/pkg/platform/middleware/request"
)

// Service is the slice of the rate limit service the admin API drives.
type Service interface {
	GetStatus(ctx context.Context, identifier string) (models.Status, error)
	AdminReset(ctx context.Context, identifier string) error
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// RegisterAdmin mounts the admin routes. Callers wrap r with admin authentication.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Get("/admin/ratelimit/{identifier}", h.HandleGetStatus)
	r.Delete("/admin/ratelimit/{identifier}", h.HandleReset)
}

func (h *Handler) HandleGetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	req, err := identifierFromPath(r)
	if err != nil {
		h.logger.WarnContext(ctx, "invalid rate limit identifier", "error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}

	status, err := h.service.GetStatus(ctx, req.Identifier)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to load rate limit status", "error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, status)
}

func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	req, err := identifierFromPath(r)
	if err != nil {
		h.logger.WarnContext(ctx, "invalid rate limit identifier", "error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}

	if err := h.service.AdminReset(ctx, req.Identifier); err != nil {
		h.logger.ErrorContext(ctx, "failed to reset rate limit", "error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, &models.ResetResponse{
		Identifier: req.Identifier,
		Reset:      true,
	})
}

func identifierFromPath(r *http.Request) (*models.IdentifierRequest, error) {
	raw := chi.URLParam(r, "identifier")
	if unescaped, err := url.PathUnescape(raw); err == nil {
		raw = unescaped
	}
	req := &models.IdentifierRequest{Identifier: raw}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}
