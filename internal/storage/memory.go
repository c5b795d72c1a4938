package storage

import (
	"context"
	"sync"
)

// MemoryStore implements Store in process memory. Users are kept in
// insertion order and copied on the way in and out.
type MemoryStore struct {
	mu     sync.RWMutex
	users  []*User
	byID   map[string]*User
	emails map[string]string
}

// NewMemoryStore creates a new in-memory user store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]*User),
		emails: make(map[string]string),
	}
}

// Create stores a new user.
func (s *MemoryStore) Create(_ context.Context, user *User) error {
	if err := validateUser(user); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := emailKey(user.Email)
	if _, exists := s.emails[key]; exists {
		return ErrEmailExists
	}

	stored := *user
	s.users = append(s.users, &stored)
	s.byID[stored.ID] = &stored
	s.emails[key] = stored.ID
	return nil
}

// Get retrieves a user by ID.
func (s *MemoryStore) Get(_ context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.byID[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	out := *user
	return &out, nil
}

// List returns a page of users in insertion order.
func (s *MemoryStore) List(_ context.Context, offset, limit int) ([]*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || offset < 0 || offset >= len(s.users) {
		return []*User{}, nil
	}

	end := min(offset+limit, len(s.users))
	page := make([]*User, 0, end-offset)
	for _, user := range s.users[offset:end] {
		out := *user
		page = append(page, &out)
	}
	return page, nil
}

// Count returns the number of stored users.
func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users), nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

// Close releases nothing.
func (s *MemoryStore) Close() error {
	return nil
}
