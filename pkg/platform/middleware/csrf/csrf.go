// Package csrf implements the double-submit CSRF defence. The secret lives on the
// server-side session; the client echoes it back on every mutating request.
package csrf

import (
	"errors"
	"log/slog"
	"net/http"

	dErrors "cmsguard/pkg/domain-errors"
	"cmsguard/pkg/platform/audit"
	"cmsguard/pkg/platform/httputil"
	request "cmsguard/pkg/platform/middleware/request"
	"cmsguard/pkg/platform/secure"
	"cmsguard/pkg/requestcontext"
)

const (
	HeaderName = "X-CSRF-Token"
	FieldName  = "csrf_token"
	CookieName = "csrf_token"
)

var (
	ErrMissingToken = dErrors.New(dErrors.CodeForbidden, "csrf token missing")
	ErrInvalidToken = dErrors.New(dErrors.CodeForbidden, "csrf token invalid")
)

// Guard verifies presented tokens against a session secret. It holds no state.
type Guard struct{}

// NewGuard returns a Guard.
func NewGuard() Guard { return Guard{} }

// IsSafeMethod reports whether method is exempt from CSRF checks.
func IsSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// Verify fails closed: a missing presented value or an unset secret never passes.
func (Guard) Verify(method, presented, secret string) error {
	if IsSafeMethod(method) {
		return nil
	}
	if presented == "" {
		return ErrMissingToken
	}
	if !secure.Equal(presented, secret) {
		return ErrInvalidToken
	}
	return nil
}

// PresentedToken reads the token from the header, then the form body, then the query string.
func PresentedToken(r *http.Request) string {
	if v := r.Header.Get(HeaderName); v != "" {
		return v
	}
	if v := r.PostFormValue(FieldName); v != "" {
		return v
	}
	return r.URL.Query().Get(FieldName)
}

// SecretFunc returns the CSRF secret of the request's session.
type SecretFunc func(r *http.Request) string

// SessionSecret reads the secret the auth middleware attached to the context.
func SessionSecret(r *http.Request) string {
	return requestcontext.CSRFSecret(r.Context())
}

type options struct {
	sink audit.Sink
}

type Option func(*options)

// WithAuditSink records every rejection as a csrf_rejected audit event.
func WithAuditSink(sink audit.Sink) Option {
	return func(o *options) {
		o.sink = sink
	}
}

// Middleware enforces Guard.Verify on every request. It must run after authentication
// so the session secret is available.
func Middleware(guard Guard, secretFn SecretFunc, logger *slog.Logger, opts ...Option) func(http.Handler) http.Handler {
	if secretFn == nil {
		secretFn = SessionSecret
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if IsSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			err := guard.Verify(r.Method, PresentedToken(r), secretFn(r))
			if err != nil {
				ctx := r.Context()
				code := "csrf_invalid_token"
				if errors.Is(err, ErrMissingToken) {
					code = "csrf_missing_token"
				}
				logger.WarnContext(ctx, "csrf verification failed",
					"reason", code,
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", request.GetRequestID(ctx),
				)
				if o.sink != nil {
					o.sink.Record(ctx, audit.Entry{
						ActorID:    requestcontext.UserID(ctx),
						Action:     audit.ActionCSRFRejected,
						TargetType: "request",
						TargetID:   r.Method + " " + r.URL.Path,
						Details:    map[string]any{"reason": code},
					})
				}
				httputil.WriteJSON(w, http.StatusForbidden, httputil.ErrorResponse{
					Error:            code,
					ErrorDescription: dErrors.MessageOf(err),
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SetCookie mirrors the secret to a cookie readable by client-side script.
func SetCookie(w http.ResponseWriter, token string, secureCookie bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: false,
		Secure:   secureCookie,
		SameSite: http.SameSiteStrictMode,
	})
}
