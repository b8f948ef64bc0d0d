package repository

import (
	"context"
	"sync"
	"time"

	"logingate/internal/models"
)

type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]models.Session
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]models.Session)}
}

func (s *MemorySessionStore) Insert(_ context.Context, session models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.Token]; ok {
		return ErrSessionExists
	}
	s.sessions[session.Token] = session
	return nil
}

func (s *MemorySessionStore) Get(_ context.Context, token string) (models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[token]
	if !ok {
		return models.Session{}, ErrSessionNotFound
	}
	return session, nil
}

func (s *MemorySessionStore) Touch(_ context.Context, token string, now time.Time, idle time.Duration) (models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[token]
	if !ok {
		return models.Session{}, ErrSessionNotFound
	}
	if expired(session.LastActivityAt, now, idle) {
		delete(s.sessions, token)
		return models.Session{}, ErrSessionExpired
	}
	session.LastActivityAt = now
	s.sessions[token] = session
	return session, nil
}

func (s *MemorySessionStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}

func (s *MemorySessionStore) DeleteIdleBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for token, session := range s.sessions {
		if session.LastActivityAt.Before(cutoff) {
			delete(s.sessions, token)
			removed++
		}
	}
	return removed, nil
}
