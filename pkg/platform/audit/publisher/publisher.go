// Package publisher writes audit events to a store, either inline or through a
// buffered channel drained by a background worker.
package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	id "cmsguard/pkg/domain"
	audit "cmsguard/pkg/platform/audit"
	"cmsguard/pkg/platform/audit/worker"
)

// ErrBufferFull is returned by Emit in async mode when the channel is saturated.
var ErrBufferFull = errors.New("audit buffer full")

// ErrClosed is returned by Emit after Close.
var ErrClosed = errors.New("audit publisher closed")

type Publisher struct {
	store  audit.Store
	logger *slog.Logger
	now    func() time.Time

	bufferSize int
	mu         sync.RWMutex
	closed     bool
	inbox      chan audit.Event
	done       chan struct{}
}

type Option func(*Publisher)

// WithAsyncBuffer enables async mode with a channel of the given capacity.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		p.bufferSize = size
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithClock overrides the timestamp source for events that arrive without one.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		p.now = now
	}
}

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.bufferSize > 0 {
		p.inbox = make(chan audit.Event, p.bufferSize)
		p.done = make(chan struct{})
		w := worker.NewWorker(store, p.inbox, worker.WithErrorHandler(func(e audit.Event, err error) {
			p.logger.Error("failed to persist audit event",
				"event", string(e.Action),
				"audit_id", e.ID.String(),
				"log_type", "audit",
				"error", err,
			)
		}))
		go func() {
			defer close(p.done)
			// Detached from any request so Close can drain.
			_ = w.Run(context.Background())
		}()
	}
	return p
}

// Emit persists event, stamping an ID and timestamp when they are missing. In
// async mode it only enqueues and never blocks.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.ID.IsNil() {
		event.ID = id.NewAuditLogID()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = p.now()
	}

	if p.inbox == nil {
		return p.store.Append(ctx, event)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	select {
	case p.inbox <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		p.logger.WarnContext(ctx, "audit buffer full, dropping event",
			"event", string(event.Action),
			"log_type", "audit",
		)
		return ErrBufferFull
	}
}

// List returns the most recent events recorded for actorID.
func (p *Publisher) List(ctx context.Context, actorID id.UserID) ([]audit.Event, error) {
	return p.store.ListByActor(ctx, actorID, audit.Page{Limit: audit.MaxPageLimit})
}

// Close stops accepting events and waits until the buffer is drained.
func (p *Publisher) Close() {
	if p.inbox == nil {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.inbox)
	p.mu.Unlock()
	<-p.done
}
