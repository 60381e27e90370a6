package session

import (
	"context"
	"sync"
	"time"

	"cmsguard/internal/auth/models"
	id "cmsguard/pkg/domain"
	"cmsguard/pkg/platform/sentinel"
)

// InMemorySessionStore keeps sessions in process memory, keyed by token.
type InMemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]models.Session
}

func New() *InMemorySessionStore {
	return &InMemorySessionStore{sessions: make(map[string]models.Session)}
}

func (s *InMemorySessionStore) Create(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.Token]; ok {
		return sentinel.ErrConflict
	}
	s.sessions[session.Token] = *session
	return nil
}

func (s *InMemorySessionStore) FindByToken(_ context.Context, token string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[token]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &session, nil
}

func (s *InMemorySessionStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}

// DeleteByUser removes every session of userID except exceptToken and returns
// how many were removed.
func (s *InMemorySessionStore) DeleteByUser(_ context.Context, userID id.UserID, exceptToken string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for token, session := range s.sessions {
		if session.UserID == userID && token != exceptToken {
			delete(s.sessions, token)
			deleted++
		}
	}
	return deleted, nil
}

func (s *InMemorySessionStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for token, session := range s.sessions {
		if !session.IsValid(now) {
			delete(s.sessions, token)
			deleted++
		}
	}
	return deleted, nil
}
