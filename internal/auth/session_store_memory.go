package auth

import (
	"context"
	"sync"
)

// NewInMemorySessionStore returns a SessionStore backed by an in-memory map.
func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{sessions: make(map[string]Session)}
}

// InMemorySessionStore implements SessionStore for tests and local development.
type InMemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// Save persists the provided session record.
func (s *InMemorySessionStore) Save(_ context.Context, session Session) error {
	s.mu.Lock()
	s.sessions[session.TokenID] = session
	s.mu.Unlock()
	return nil
}

// Find retrieves a session by token identifier.
func (s *InMemorySessionStore) Find(_ context.Context, tokenID string) (Session, error) {
	s.mu.RLock()
	session, ok := s.sessions[tokenID]
	s.mu.RUnlock()
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return session, nil
}

// Delete removes the session associated with the token identifier.
func (s *InMemorySessionStore) Delete(_ context.Context, tokenID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[tokenID]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, tokenID)
	return nil
}

// Has reports whether a token identifier exists. Useful for tests.
func (s *InMemorySessionStore) Has(tokenID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[tokenID]
	return ok
}

// Len reports the number of active sessions.
func (s *InMemorySessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
