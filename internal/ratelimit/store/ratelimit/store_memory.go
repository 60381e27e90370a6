package ratelimit

import (
	"context"
	"sync"
	"time"

	"cmsguard/internal/lockout"
	"cmsguard/internal/ratelimit/models"
	id "cmsguard/pkg/domain"
)

// InMemoryStore keeps rate limit records in a map guarded by a mutex. It backs
// development setups and the degraded-mode fallback limiter.
type InMemoryStore struct {
	mu      sync.Mutex
	records map[string]*models.RateLimit
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]*models.RateLimit)}
}

func (s *InMemoryStore) Get(_ context.Context, identifier string) (*models.RateLimit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[identifier]
	if !ok {
		return nil, nil
	}
	cp := *record
	return &cp, nil
}

func (s *InMemoryStore) Save(_ context.Context, record *models.RateLimit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *record
	if existing, ok := s.records[record.Identifier]; ok {
		cp.ID = existing.ID
		cp.CreatedAt = existing.CreatedAt
	}
	s.records[record.Identifier] = &cp
	return nil
}

func (s *InMemoryStore) RecordAttempt(_ context.Context, identifier string, now time.Time, policy lockout.Policy) (*models.RateLimit, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[identifier]
	if !ok {
		record = &models.RateLimit{
			ID:         id.NewRateLimitID(),
			Identifier: identifier,
			CreatedAt:  now,
		}
		s.records[identifier] = record
	}

	var lockedNow bool
	record.Counter, lockedNow = policy.Record(record.Counter, now)
	record.UpdatedAt = now

	cp := *record
	return &cp, lockedNow, nil
}

func (s *InMemoryStore) Delete(_ context.Context, identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, identifier)
	return nil
}

func (s *InMemoryStore) DeleteStale(_ context.Context, now, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for key, record := range s.records {
		if lockout.IsLocked(record.Counter, now) {
			continue
		}
		if record.Counter.Attempts == 0 || record.Counter.FirstAttemptAt.Before(cutoff) {
			delete(s.records, key)
			deleted++
		}
	}
	return deleted, nil
}
