package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"logingate/internal/ids"
	"logingate/internal/metrics"
	"logingate/internal/models"
	"logingate/internal/repository"
	"logingate/internal/security"
)

const maxTokenAttempts = 3

// SessionManager owns session records: creation, idle-timeout enforcement,
// destruction and supersession checks.
type SessionManager struct {
	accounts    repository.AccountStore
	sessions    repository.SessionStore
	idleTimeout time.Duration
	retention   time.Duration
	metrics     *metrics.Metrics
	log         zerolog.Logger
	now         func() time.Time
	newToken    func() (string, error)
}

func NewSessionManager(
	accounts repository.AccountStore,
	sessions repository.SessionStore,
	idleTimeout time.Duration,
	retention time.Duration,
	m *metrics.Metrics,
	log zerolog.Logger,
) *SessionManager {
	if retention < idleTimeout {
		retention = idleTimeout
	}
	return &SessionManager{
		accounts:    accounts,
		sessions:    sessions,
		idleTimeout: idleTimeout,
		retention:   retention,
		metrics:     m,
		log:         log,
		now:         time.Now,
		newToken:    security.GenerateSessionToken,
	}
}

// SetClock replaces the time source. Intended for tests.
func (m *SessionManager) SetClock(now func() time.Time) {
	m.now = now
}

func (m *SessionManager) Now() time.Time {
	return m.now()
}

func (m *SessionManager) IdleTimeout() time.Duration {
	return m.idleTimeout
}

// Create mints a session for account with a role snapshot taken from the
// live record. The account must exist and be active.
func (m *SessionManager) Create(ctx context.Context, account models.Account, remembered bool) (models.Session, error) {
	live, err := m.accounts.Lookup(ctx, account.Email)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return models.Session{}, ErrUserNotFound
		}
		return models.Session{}, fmt.Errorf("lookup account: %w", err)
	}
	if !live.Active {
		return models.Session{}, ErrAccountLocked
	}

	now := m.now()
	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		token, err := m.newToken()
		if err != nil {
			return models.Session{}, err
		}
		session := models.Session{
			ID:             ids.New(),
			Token:          token,
			Email:          live.Email,
			Role:           live.Role,
			Remembered:     remembered,
			CreatedAt:      now,
			LastActivityAt: now,
		}
		err = m.sessions.Insert(ctx, session)
		if err == nil {
			m.metrics.SessionEvent("created")
			return session, nil
		}
		if !errors.Is(err, repository.ErrSessionExists) {
			return models.Session{}, fmt.Errorf("insert session: %w", err)
		}
		m.log.Warn().Int("attempt", attempt+1).Msg("session token collision, regenerating")
	}
	return models.Session{}, fmt.Errorf("insert session: %w", repository.ErrSessionExists)
}

// Touch records activity on token. A session idle for the full timeout is
// removed and reported as ErrSessionExpired.
func (m *SessionManager) Touch(ctx context.Context, token string) (models.Session, error) {
	if token == "" {
		return models.Session{}, ErrNoSession
	}
	session, err := m.sessions.Touch(ctx, token, m.now(), m.idleTimeout)
	switch {
	case err == nil:
		return session, nil
	case errors.Is(err, repository.ErrSessionExpired):
		m.metrics.SessionEvent("expired")
		return models.Session{}, ErrSessionExpired
	case errors.Is(err, repository.ErrSessionNotFound):
		return models.Session{}, ErrNoSession
	default:
		return models.Session{}, fmt.Errorf("touch session: %w", err)
	}
}

// Get returns the stored record without counting it as activity.
func (m *SessionManager) Get(ctx context.Context, token string) (models.Session, error) {
	if token == "" {
		return models.Session{}, ErrNoSession
	}
	session, err := m.sessions.Get(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return models.Session{}, ErrNoSession
		}
		return models.Session{}, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

func (m *SessionManager) Destroy(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := m.sessions.Delete(ctx, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	m.metrics.SessionEvent("destroyed")
	return nil
}

// IsCurrent reports whether session is still the most recent one issued to
// its owner.
func (m *SessionManager) IsCurrent(ctx context.Context, session models.Session) (bool, error) {
	account, err := m.accounts.Lookup(ctx, session.Email)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("lookup account: %w", err)
	}
	return account.CurrentSessionToken != "" && account.CurrentSessionToken == session.Token, nil
}

// Validate is the per-request check: idle timeout first, then supersession.
// A superseded record is left in place; callers decide whether to destroy it.
func (m *SessionManager) Validate(ctx context.Context, token string) (models.Session, error) {
	session, err := m.Touch(ctx, token)
	if err != nil {
		return models.Session{}, err
	}
	current, err := m.IsCurrent(ctx, session)
	if err != nil {
		return models.Session{}, err
	}
	if !current {
		m.metrics.SessionEvent("superseded")
		return session, ErrSessionSuperseded
	}
	return session, nil
}

// Sweep removes records idle for longer than the retention window.
func (m *SessionManager) Sweep(ctx context.Context) (int, error) {
	removed, err := m.sessions.DeleteIdleBefore(ctx, m.now().Add(-m.retention))
	if err != nil {
		return 0, fmt.Errorf("sweep sessions: %w", err)
	}
	return removed, nil
}
