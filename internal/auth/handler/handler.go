// Package handler exposes login, logout, session, password and email
// verification endpoints over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"cmsguard/internal/auth/models"
	"cmsguard/internal/auth/password"
	"cmsguard/internal/auth/service"
	ratelimitmw "cmsguard/internal/ratelimit/middleware"
	ratelimitmodels "cmsguard/internal/ratelimit/models"
	ratelimitsvc "cmsguard/internal/ratelimit/service"
	id "cmsguard/pkg/domain"
	dErrors "cmsguard/pkg/domain-errors"
	"cmsguard/pkg/platform/httputil"
	auth "cmsguard/pkg/platform/middleware/auth"
	"cmsguard/pkg/platform/middleware/csrf"
	"cmsguard/pkg/platform/middleware/metadata"
	request "cmsguard/pkg/platform/middleware/request"
	"cmsguard/pkg/platform/privacy"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 16 << 10

// Service is the auth service surface the handler drives.
type Service interface {
	Login(ctx context.Context, username, pw string) (*models.LoginResult, error)
	RecordFailedLogin(ctx context.Context, username, ipAddress, userAgent string) (*models.FailedAttemptResult, error)
	Logout(ctx context.Context, token string) error
	Authenticate(ctx context.Context, token string) (*models.Session, error)
	ChangePassword(ctx context.Context, userID id.UserID, current, next string) error
	IssueEmailVerification(ctx context.Context, userID id.UserID) (*models.EmailVerificationToken, error)
	VerifyEmail(ctx context.Context, userID id.UserID, token string) error
	PasswordPolicy() password.Policy
}

// RateLimiter guards credential checks per client.
type RateLimiter interface {
	CheckAllowed(ctx context.Context, identifier string) error
	RecordAttempt(ctx context.Context, identifier string) (*ratelimitmodels.RateLimit, error)
	Reset(ctx context.Context, identifier string) error
}

type Handler struct {
	service       Service
	limiter       RateLimiter
	logger        *slog.Logger
	secureCookies bool
}

type Option func(*Handler)

// WithSecureCookies marks session and CSRF cookies Secure. Enable behind TLS.
func WithSecureCookies(secure bool) Option {
	return func(h *Handler) {
		h.secureCookies = secure
	}
}

func New(service Service, limiter RateLimiter, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		service: service,
		limiter: limiter,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterPublic mounts routes that need no session. strength wraps the
// password strength endpoint, typically with an IP volume limit.
func (h *Handler) RegisterPublic(r chi.Router, strength ...func(http.Handler) http.Handler) {
	r.Post("/auth/login", h.HandleLogin)
	r.With(strength...).Post("/auth/password/strength", h.HandlePasswordStrength)
}

// RegisterProtected mounts routes that need a session. Callers wrap r with
// auth.RequireAuth and the CSRF middleware.
func (h *Handler) RegisterProtected(r chi.Router) {
	r.Post("/auth/logout", h.HandleLogout)
	r.Get("/auth/session", h.HandleSession)
	r.Post("/auth/password", h.HandleChangePassword)
	r.Post("/auth/email/verification", h.HandleIssueVerification)
	r.Post("/auth/email/verify", h.HandleVerifyEmail)
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	var req models.LoginRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}

	clientIP := metadata.GetClientIP(ctx)
	userAgent := metadata.GetUserAgent(ctx)
	identifier := ratelimitmodels.IPIdentifier(clientIP, ratelimitmodels.ActionLogin)
	if h.rejectIfLimited(ctx, w, identifier) {
		return
	}

	result, err := h.service.Login(ctx, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			h.recordAttempt(ctx, identifier)
			if _, recErr := h.service.RecordFailedLogin(ctx, req.Username, clientIP, userAgent); recErr != nil {
				h.logger.ErrorContext(ctx, "failed to record failed login", "error", recErr, "request_id", requestID)
			}
		}
		h.writeAuthError(ctx, w, err)
		return
	}

	if err := h.limiter.Reset(ctx, identifier); err != nil {
		h.logger.WarnContext(ctx, "failed to reset login rate limit", "error", err, "request_id", requestID)
	}

	h.setSessionCookie(w, result.Token, result.ExpiresAt)
	csrf.SetCookie(w, result.CSRFToken, h.secureCookies)
	httputil.WriteJSON(w, http.StatusOK, &models.LoginResponse{
		Token:     result.Token,
		CSRFToken: result.CSRFToken,
		ExpiresAt: result.ExpiresAt,
		User:      models.NewUserResponse(result.User),
	})
}

func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.service.Logout(ctx, auth.GetSessionToken(ctx)); err != nil {
		h.logger.ErrorContext(ctx, "failed to log out", "error", err, "request_id", request.GetRequestID(ctx))
		httputil.WriteError(w, err)
		return
	}
	h.clearCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, err := h.service.Authenticate(ctx, auth.GetSessionToken(ctx))
	if err != nil {
		h.writeAuthError(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &models.SessionResponse{
		UserID:     session.UserID,
		DeviceName: session.DeviceName,
		IPAddress:  session.IPAddress,
		CreatedAt:  session.CreatedAt,
		ExpiresAt:  session.ExpiresAt,
	})
}

func (h *Handler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req models.ChangePasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}

	userID := auth.GetUserID(ctx)
	identifier := ratelimitmodels.UserIdentifier(userID, ratelimitmodels.ActionChangePassword)
	if h.rejectIfLimited(ctx, w, identifier) {
		return
	}

	if err := h.service.ChangePassword(ctx, userID, req.CurrentPassword, req.NewPassword); err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			h.recordAttempt(ctx, identifier)
		}
		h.writeAuthError(ctx, w, err)
		return
	}

	if err := h.limiter.Reset(ctx, identifier); err != nil {
		h.logger.WarnContext(ctx, "failed to reset password change rate limit", "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandlePasswordStrength(w http.ResponseWriter, r *http.Request) {
	var req models.PasswordStrengthRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}

	policy := h.service.PasswordPolicy()
	httputil.WriteJSON(w, http.StatusOK, &models.PasswordStrengthResponse{
		Score:   policy.Strength(req.Password),
		Label:   policy.StrengthLabel(req.Password),
		Entropy: policy.Entropy(req.Password),
		Checks:  policy.Check(req.Password),
		Valid:   policy.Validate(req.Password) == nil,
	})
}

func (h *Handler) HandleIssueVerification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := auth.GetUserID(ctx)

	// every issued email counts against the sender's budget
	identifier := ratelimitmodels.UserIdentifier(userID, ratelimitmodels.ActionEmailVerification)
	if h.rejectIfLimited(ctx, w, identifier) {
		return
	}

	token, err := h.service.IssueEmailVerification(ctx, userID)
	if err != nil {
		h.writeAuthError(ctx, w, err)
		return
	}
	h.recordAttempt(ctx, identifier)

	httputil.WriteJSON(w, http.StatusAccepted, &models.VerificationIssuedResponse{
		ExpiresAt:      token.ExpiresAt,
		RemainingHours: token.RemainingHours(token.CreatedAt),
	})
}

func (h *Handler) HandleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req models.VerifyEmailRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}

	userID := auth.GetUserID(ctx)
	identifier := ratelimitmodels.UserIdentifier(userID, ratelimitmodels.ActionVerifyEmail)
	if h.rejectIfLimited(ctx, w, identifier) {
		return
	}

	if err := h.service.VerifyEmail(ctx, userID, req.Token); err != nil {
		if errors.Is(err, service.ErrInvalidVerificationToken) {
			h.recordAttempt(ctx, identifier)
		}
		h.writeAuthError(ctx, w, err)
		return
	}

	if err := h.limiter.Reset(ctx, identifier); err != nil {
		h.logger.WarnContext(ctx, "failed to reset email verification rate limit", "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.WarnContext(r.Context(), "failed to decode request body",
			"error", err,
			"request_id", request.GetRequestID(r.Context()),
		)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteError(w, dErrors.New(dErrors.CodePayloadTooLarge, "request body too large"))
			return false
		}
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return false
	}
	return true
}

// rejectIfLimited writes a 429 when identifier is locked. Limiter failures let
// the request through.
func (h *Handler) rejectIfLimited(ctx context.Context, w http.ResponseWriter, identifier string) bool {
	err := h.limiter.CheckAllowed(ctx, identifier)
	if err == nil {
		return false
	}
	var exceeded *ratelimitsvc.RateLimitExceededError
	if errors.As(err, &exceeded) {
		ratelimitmw.WriteExceeded(w, exceeded)
		return true
	}
	h.logger.ErrorContext(ctx, "rate limit check failed, allowing request",
		"error", err,
		"client_ip", privacy.AnonymizeIP(metadata.GetClientIP(ctx)),
		"request_id", request.GetRequestID(ctx),
	)
	return false
}

func (h *Handler) recordAttempt(ctx context.Context, identifier string) {
	if _, err := h.limiter.RecordAttempt(ctx, identifier); err != nil {
		h.logger.ErrorContext(ctx, "failed to record rate limit attempt",
			"error", err,
			"request_id", request.GetRequestID(ctx),
		)
	}
}

func (h *Handler) writeAuthError(ctx context.Context, w http.ResponseWriter, err error) {
	var (
		locked    *service.AccountLockedError
		violation *password.PolicyViolationError
	)
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		httputil.WriteJSON(w, http.StatusUnauthorized, &models.AuthErrorResponse{
			Error:   "invalid_credentials",
			Message: "Invalid username or password.",
		})
	case errors.Is(err, service.ErrInactiveAccount):
		httputil.WriteJSON(w, http.StatusForbidden, &models.AuthErrorResponse{
			Error:   "inactive_account",
			Message: "This account has been deactivated.",
		})
	case errors.As(err, &locked):
		until := locked.LockedUntil
		httputil.WriteJSON(w, http.StatusLocked, &models.AuthErrorResponse{
			Error:       "account_locked",
			Message:     "Account temporarily locked after repeated failed logins.",
			LockedUntil: &until,
		})
	case errors.As(err, &violation):
		httputil.WriteJSON(w, http.StatusUnprocessableEntity, &models.PasswordPolicyErrorResponse{
			Error:      "password_policy_violation",
			Message:    "Password does not meet the policy.",
			Violations: violation.Violations,
		})
	case errors.Is(err, models.ErrTokenExpired):
		httputil.WriteJSON(w, http.StatusGone, &models.AuthErrorResponse{
			Error:   "token_expired",
			Message: "The verification token has expired.",
		})
	case errors.Is(err, models.ErrTokenAlreadyUsed):
		httputil.WriteJSON(w, http.StatusConflict, &models.AuthErrorResponse{
			Error:   "token_already_used",
			Message: "The verification token was already used.",
		})
	case errors.Is(err, service.ErrInvalidVerificationToken):
		httputil.WriteJSON(w, http.StatusBadRequest, &models.AuthErrorResponse{
			Error:   "invalid_token",
			Message: "The verification token is not valid.",
		})
	default:
		if dErrors.CodeOf(err) == dErrors.CodeInternal {
			h.logger.ErrorContext(ctx, "auth request failed", "error", err, "request_id", request.GetRequestID(ctx))
		}
		httputil.WriteError(w, err)
	}
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearCookies(w http.ResponseWriter) {
	for _, name := range []string{auth.SessionCookieName, csrf.CookieName} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: name == auth.SessionCookieName,
			Secure:   h.secureCookies,
		})
	}
}
