package user

import (
	"context"
	"strings"
	"sync"

	"cmsguard/internal/auth/models"
	id "cmsguard/pkg/domain"
	"cmsguard/pkg/platform/sentinel"
)

// InMemoryUserStore keeps accounts in process memory. Usernames and emails
// are matched case-insensitively.
type InMemoryUserStore struct {
	mu         sync.RWMutex
	users      map[id.UserID]*models.User
	byUsername map[string]id.UserID
	byEmail    map[string]id.UserID
}

func New() *InMemoryUserStore {
	return &InMemoryUserStore{
		users:      make(map[id.UserID]*models.User),
		byUsername: make(map[string]id.UserID),
		byEmail:    make(map[string]id.UserID),
	}
}

func (s *InMemoryUserStore) FindByUsername(_ context.Context, username string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	userID, ok := s.byUsername[usernameKey(username)]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(s.users[userID]), nil
}

func (s *InMemoryUserStore) FindByID(_ context.Context, userID id.UserID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[userID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(user), nil
}

// Save inserts a new account. A taken username yields models.ErrUsernameTaken
// and a taken email models.ErrEmailTaken.
func (s *InMemoryUserStore) Save(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkUnique(user); err != nil {
		return err
	}
	s.put(user)
	return nil
}

func (s *InMemoryUserStore) Update(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous, ok := s.users[user.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if err := s.checkUnique(user); err != nil {
		return err
	}
	delete(s.byUsername, usernameKey(previous.Username))
	delete(s.byEmail, usernameKey(previous.Email))
	s.put(user)
	return nil
}

func (s *InMemoryUserStore) checkUnique(user *models.User) error {
	if existing, ok := s.byUsername[usernameKey(user.Username)]; ok && existing != user.ID {
		return models.ErrUsernameTaken
	}
	if existing, ok := s.byEmail[usernameKey(user.Email)]; ok && existing != user.ID {
		return models.ErrEmailTaken
	}
	return nil
}

func (s *InMemoryUserStore) put(user *models.User) {
	s.users[user.ID] = clone(user)
	s.byUsername[usernameKey(user.Username)] = user.ID
	s.byEmail[usernameKey(user.Email)] = user.ID
}

func usernameKey(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func clone(u *models.User) *models.User {
	cp := *u
	if u.Verification != nil {
		v := *u.Verification
		cp.Verification = &v
	}
	return &cp
}
