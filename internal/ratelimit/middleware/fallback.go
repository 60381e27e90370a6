package middleware

import (
	"log/slog"

	"cmsguard/internal/lockout"
	"cmsguard/internal/ratelimit/service"
	store "cmsguard/internal/ratelimit/store/ratelimit"
)

// NewFallbackLimiter creates a limiter backed by process memory with the same
// policy as the primary. It serves requests while the primary store is failing.
// Returns nil if the service cannot be built, logging the reason.
func NewFallbackLimiter(policy lockout.Policy, logger *slog.Logger) Limiter {
	opts := []service.Option{service.WithPolicy(policy)}
	if logger != nil {
		opts = append(opts, service.WithLogger(logger))
	}
	svc, err := service.New(store.NewInMemory(), opts...)
	if err != nil {
		if logger != nil {
			logger.Error("failed to initialize fallback rate limiter", "error", err)
		}
		return nil
	}
	return svc
}
