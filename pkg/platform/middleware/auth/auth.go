package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	id "cmsguard/pkg/domain"
	dErrors "cmsguard/pkg/domain-errors"
	"cmsguard/pkg/platform/httputil"
	request "cmsguard/pkg/platform/middleware/request"
	"cmsguard/pkg/requestcontext"
)

// Principal is what a valid session token resolves to.
type Principal struct {
	UserID     id.UserID
	CSRFSecret string
}

// SessionResolver looks up an opaque bearer token.
type SessionResolver interface {
	ResolveSession(ctx context.Context, token string) (*Principal, error)
}

// SessionCookieName is accepted as a fallback to the Authorization header so
// browser clients can rely on the cookie set at login.
const SessionCookieName = "session_token"

// GetUserID retrieves the authenticated user ID from the context.
func GetUserID(ctx context.Context) id.UserID {
	return requestcontext.UserID(ctx)
}

// GetSessionToken retrieves the bearer token of the authenticated request.
func GetSessionToken(ctx context.Context) string {
	return requestcontext.SessionToken(ctx)
}

// BearerToken extracts the session token from the Authorization header or the session cookie.
func BearerToken(r *http.Request) string {
	if after, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	if c, err := r.Cookie(SessionCookieName); err == nil {
		return c.Value
	}
	return ""
}

func RequireAuth(resolver SessionResolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := request.GetRequestID(ctx)

			token := BearerToken(r)
			if token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestID,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "Missing or invalid Authorization header"))
				return
			}

			principal, err := resolver.ResolveSession(ctx, token)
			if err != nil {
				if dErrors.HasCode(err, dErrors.CodeUnauthorized) {
					logger.WarnContext(ctx, "unauthorized access - invalid session",
						"request_id", requestID,
					)
					httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "Invalid or expired session"))
					return
				}
				logger.ErrorContext(ctx, "failed to resolve session",
					"error", err,
					"request_id", requestID,
				)
				httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to validate session"))
				return
			}

			ctx = requestcontext.WithUserID(ctx, principal.UserID)
			ctx = requestcontext.WithSession(ctx, token, principal.CSRFSecret)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuth attaches the principal when a valid token is present and otherwise
// lets the request through anonymously.
func OptionalAuth(resolver SessionResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			if principal, err := resolver.ResolveSession(ctx, token); err == nil {
				ctx = requestcontext.WithUserID(ctx, principal.UserID)
				ctx = requestcontext.WithSession(ctx, token, principal.CSRFSecret)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
