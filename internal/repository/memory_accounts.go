package repository

import (
	"context"
	"sync"
	"time"

	"logingate/internal/models"
)

type accountEntry struct {
	mu      sync.Mutex
	account models.Account
}

// MemoryAccountStore keeps accounts in process memory with one mutex per
// account, so work on different accounts never serialises.
type MemoryAccountStore struct {
	mu       sync.RWMutex
	accounts map[string]*accountEntry
}

func NewMemoryAccountStore() *MemoryAccountStore {
	return &MemoryAccountStore{accounts: make(map[string]*accountEntry)}
}

func (s *MemoryAccountStore) entry(email string) (*accountEntry, error) {
	s.mu.RLock()
	e, ok := s.accounts[email]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrAccountNotFound
	}
	return e, nil
}

func (s *MemoryAccountStore) Lookup(_ context.Context, email string) (models.Account, error) {
	e, err := s.entry(email)
	if err != nil {
		return models.Account{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneAccount(e.account), nil
}

func (s *MemoryAccountStore) RecordFailedAttempt(_ context.Context, email string, maxAttempts int) (models.Account, error) {
	e, err := s.entry(email)
	if err != nil {
		return models.Account{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.account.Active {
		return models.Account{}, ErrAccountInactive
	}
	e.account.FailedAttempts++
	if e.account.FailedAttempts >= maxAttempts {
		e.account.Active = false
	}
	e.account.UpdatedAt = time.Now()
	return cloneAccount(e.account), nil
}

func (s *MemoryAccountStore) Lock(_ context.Context, email string) error {
	e, err := s.entry(email)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.account.Active = false
	e.account.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryAccountStore) RecordSuccess(_ context.Context, email string, token string, now time.Time) (string, error) {
	e, err := s.entry(email)
	if err != nil {
		return "", err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.account.Active {
		return "", ErrAccountInactive
	}
	previous := e.account.CurrentSessionToken
	loginAt := now
	e.account.FailedAttempts = 0
	e.account.LastLoginAt = &loginAt
	e.account.CurrentSessionToken = token
	e.account.UpdatedAt = now
	return previous, nil
}

func (s *MemoryAccountStore) SwapSessionToken(_ context.Context, email string, token string) (string, error) {
	e, err := s.entry(email)
	if err != nil {
		return "", err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.account.Active {
		return "", ErrAccountInactive
	}
	previous := e.account.CurrentSessionToken
	e.account.CurrentSessionToken = token
	e.account.UpdatedAt = time.Now()
	return previous, nil
}

func (s *MemoryAccountStore) InvalidateSessionToken(_ context.Context, email string) error {
	e, err := s.entry(email)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.account.CurrentSessionToken = ""
	e.account.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryAccountStore) Ensure(_ context.Context, account models.Account) (bool, error) {
	now := time.Now()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[account.Email]; ok {
		return false, nil
	}
	s.accounts[account.Email] = &accountEntry{account: cloneAccount(account)}
	return true, nil
}

func cloneAccount(a models.Account) models.Account {
	out := a
	if a.Credential != nil {
		out.Credential = append([]byte(nil), a.Credential...)
	}
	if a.LastLoginAt != nil {
		t := *a.LastLoginAt
		out.LastLoginAt = &t
	}
	return out
}
