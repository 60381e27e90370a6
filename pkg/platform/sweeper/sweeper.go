// Package sweeper runs periodic storage hygiene jobs such as deleting expired
// sessions and stale rate limit rows.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"cmsguard/pkg/requestcontext"
)

// Func removes expired rows as of requestcontext.Now(ctx) and reports how many.
type Func func(ctx context.Context) (int, error)

type Sweeper struct {
	name     string
	interval time.Duration
	fn       Func
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Sweeper)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) {
		s.logger = logger
	}
}

// WithClock replaces time.Now as the source of each pass's timestamp.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		s.now = now
	}
}

func New(name string, interval time.Duration, fn Func, opts ...Option) *Sweeper {
	s := &Sweeper{
		name:     name,
		interval: interval,
		fn:       fn,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps every interval until ctx is cancelled. A failed pass is logged and
// retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// Sweep runs a single pass.
func (s *Sweeper) Sweep(ctx context.Context) int {
	ctx = requestcontext.WithTime(ctx, s.now())
	deleted, err := s.fn(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "sweep failed", "sweeper", s.name, "error", err)
		return 0
	}
	if deleted > 0 {
		s.logger.InfoContext(ctx, "sweep completed", "sweeper", s.name, "deleted", deleted)
	}
	return deleted
}
