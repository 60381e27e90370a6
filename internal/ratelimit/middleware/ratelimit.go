package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"cmsguard/internal/ratelimit/metrics"
	"cmsguard/internal/ratelimit/models"
	"cmsguard/internal/ratelimit/service"
	"cmsguard/pkg/platform/circuit"
	"cmsguard/pkg/platform/httputil"
	auth "cmsguard/pkg/platform/middleware/auth"
	metadata "cmsguard/pkg/platform/middleware/metadata"
	"cmsguard/pkg/platform/privacy"
)

// Limiter is the subset of the rate limit service the middleware needs.
type Limiter interface {
	CheckAllowed(ctx context.Context, identifier string) error
	GetStatus(ctx context.Context, identifier string) (models.Status, error)
	RecordAttempt(ctx context.Context, identifier string) (*models.RateLimit, error)
}

// StatusHeader is set to "degraded" while the fallback limiter is in use.
const StatusHeader = "X-RateLimit-Status"

type Middleware struct {
	limiter  Limiter
	fallback Limiter
	breaker  *circuit.Breaker
	metrics  *metrics.Metrics
	logger   *slog.Logger
	disabled bool
}

type Option func(*Middleware)

// WithDisabled disables rate limiting entirely (for testing/demo mode).
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) {
		m.disabled = disabled
	}
}

// WithFallback sets the limiter used while the breaker is open.
func WithFallback(fallback Limiter) Option {
	return func(m *Middleware) {
		m.fallback = fallback
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(m *Middleware) {
		m.breaker = b
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Middleware) {
		m.metrics = mt
	}
}

func New(limiter Limiter, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		limiter: limiter,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.breaker == nil {
		m.breaker = circuit.New("ratelimit")
	}
	if m.disabled {
		logger.Info("rate limiting disabled")
	}
	return m
}

// Identifier keys action by the authenticated user when there is one and by
// client IP otherwise.
func Identifier(ctx context.Context, action string) string {
	if userID := auth.GetUserID(ctx); !userID.IsNil() {
		return models.UserIdentifier(userID, action)
	}
	return models.IPIdentifier(metadata.GetClientIP(ctx), action)
}

// Limit rejects requests whose identifier for action is locked.
func (m *Middleware) Limit(action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.disabled {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			identifier := Identifier(ctx, action)

			limiter, err := m.check(ctx, identifier)
			if limiter != m.limiter {
				w.Header().Set(StatusHeader, "degraded")
			}

			var exceeded *service.RateLimitExceededError
			switch {
			case errors.As(err, &exceeded):
				WriteExceeded(w, exceeded)
				return
			case err != nil:
				m.logger.ErrorContext(ctx, "failed to check rate limit",
					"error", err,
					"action", action,
					"ip_prefix", privacy.AnonymizeIP(metadata.GetClientIP(ctx)),
				)
				next.ServeHTTP(w, r)
				return
			}

			if status, statusErr := limiter.GetStatus(ctx, identifier); statusErr == nil {
				addRateLimitHeaders(w, status)
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RecordFailure counts an attempt for action whenever the wrapped handler
// answers 401.
func (m *Middleware) RecordFailure(action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.disabled {
				next.ServeHTTP(w, r)
				return
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			if rec.status != http.StatusUnauthorized {
				return
			}

			ctx := r.Context()
			if _, err := m.active().RecordAttempt(ctx, Identifier(ctx, action)); err != nil {
				m.logger.ErrorContext(ctx, "failed to record rate limit attempt",
					"error", err,
					"action", action,
					"ip_prefix", privacy.AnonymizeIP(metadata.GetClientIP(ctx)),
				)
			}
		})
	}
}

// Count records an attempt for every request that reaches it. Put it after
// Limit on endpoints throttled by volume rather than by failures.
func (m *Middleware) Count(action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !m.disabled {
				ctx := r.Context()
				if _, err := m.active().RecordAttempt(ctx, Identifier(ctx, action)); err != nil {
					m.logger.ErrorContext(ctx, "failed to record rate limit attempt",
						"error", err,
						"action", action,
						"ip_prefix", privacy.AnonymizeIP(metadata.GetClientIP(ctx)),
					)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CheckAllowed runs the same breaker-guarded check as Limit for callers that
// build their own identifier, such as the login handler.
func (m *Middleware) CheckAllowed(ctx context.Context, identifier string) error {
	if m.disabled {
		return nil
	}
	_, err := m.check(ctx, identifier)
	return err
}

// RecordAttempt counts a failure on whichever limiter is currently serving.
func (m *Middleware) RecordAttempt(ctx context.Context, identifier string) (*models.RateLimit, error) {
	if m.disabled {
		return nil, nil
	}
	return m.active().RecordAttempt(ctx, identifier)
}

type resetter interface {
	Reset(ctx context.Context, identifier string) error
}

// Reset clears identifier on the fallback and then on the primary limiter.
func (m *Middleware) Reset(ctx context.Context, identifier string) error {
	if m.disabled {
		return nil
	}
	if fallback, ok := m.fallback.(resetter); ok {
		if err := fallback.Reset(ctx, identifier); err != nil {
			m.logger.WarnContext(ctx, "failed to reset fallback rate limit", "error", err)
		}
	}
	if primary, ok := m.limiter.(resetter); ok {
		return primary.Reset(ctx, identifier)
	}
	return nil
}

// active returns the fallback while the breaker is open.
func (m *Middleware) active() Limiter {
	if m.breaker.IsOpen() && m.fallback != nil {
		return m.fallback
	}
	return m.limiter
}

// check asks the primary limiter and switches to the fallback while the breaker
// is open. It returns the limiter whose answer was used.
func (m *Middleware) check(ctx context.Context, identifier string) (Limiter, error) {
	err := m.limiter.CheckAllowed(ctx, identifier)

	var exceeded *service.RateLimitExceededError
	if err == nil || errors.As(err, &exceeded) {
		usePrimary, change := m.breaker.RecordSuccess()
		if change.Closed {
			m.logger.InfoContext(ctx, "rate limit store recovered, leaving fallback mode")
			m.setFallbackActive(false)
		}
		if usePrimary || m.fallback == nil {
			return m.limiter, err
		}
		return m.fallback, m.fallback.CheckAllowed(ctx, identifier)
	}

	useFallback, change := m.breaker.RecordFailure()
	if change.Opened {
		m.logger.WarnContext(ctx, "rate limit store failing, switching to in-memory fallback", "error", err)
		m.setFallbackActive(true)
	}
	if useFallback && m.fallback != nil {
		return m.fallback, m.fallback.CheckAllowed(ctx, identifier)
	}
	return m.limiter, err
}

func (m *Middleware) setFallbackActive(active bool) {
	if m.metrics != nil {
		m.metrics.SetFallbackActive(active)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

func addRateLimitHeaders(w http.ResponseWriter, status models.Status) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(status.MaxAttempts))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(status.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(status.ResetAt.Unix(), 10))
}

// WriteExceeded renders a 429 with Retry-After for err. Handlers that check
// limits themselves use it so every 429 looks the same.
func WriteExceeded(w http.ResponseWriter, err *service.RateLimitExceededError) {
	retryAfter := err.RetryAfterSeconds()
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, &models.RateLimitExceededResponse{
		Error:             "rate_limit_exceeded",
		Message:           "Too many attempts. Please try again later.",
		RetryAfter:        retryAfter,
		RetryAfterMinutes: err.RetryAfterMinutes,
	})
}
