package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	id "cmsguard/pkg/domain"
	audit "cmsguard/pkg/platform/audit"
)

// InMemoryStore keeps events in insertion order. Listings scan from the tail so
// the newest event comes first.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []audit.Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *InMemoryStore) ListByActor(_ context.Context, actorID id.UserID, page audit.Page) ([]audit.Event, error) {
	return s.list(page, func(e audit.Event) bool { return e.ActorID == actorID }), nil
}

func (s *InMemoryStore) ListByAction(_ context.Context, action audit.Action, page audit.Page) ([]audit.Event, error) {
	return s.list(page, func(e audit.Event) bool { return e.Action == action }), nil
}

func (s *InMemoryStore) ListByActions(_ context.Context, actions []audit.Action, page audit.Page) ([]audit.Event, error) {
	return s.list(page, func(e audit.Event) bool { return slices.Contains(actions, e.Action) }), nil
}

func (s *InMemoryStore) ListByTargetType(_ context.Context, targetType string, page audit.Page) ([]audit.Event, error) {
	return s.list(page, func(e audit.Event) bool { return e.TargetType == targetType }), nil
}

// ListAll returns all audit events across all actors (admin-only operation)
func (s *InMemoryStore) ListAll(_ context.Context, page audit.Page) ([]audit.Event, error) {
	return s.list(page, func(audit.Event) bool { return true }), nil
}

// DeleteBefore drops events created strictly before cutoff.
func (s *InMemoryStore) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	var deleted int64
	for _, e := range s.events {
		if e.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	return deleted, nil
}

func (s *InMemoryStore) list(page audit.Page, match func(audit.Event) bool) []audit.Event {
	page = page.Normalize()

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]audit.Event, 0, page.Limit)
	skipped := 0
	for i := len(s.events) - 1; i >= 0 && len(result) < page.Limit; i-- {
		e := s.events[i]
		if !match(e) {
			continue
		}
		if skipped < page.Offset {
			skipped++
			continue
		}
		result = append(result, e)
	}
	return result
}
