package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"logingate/internal/audit"
	"logingate/internal/config"
	applog "logingate/internal/log"
	"logingate/internal/metrics"
	"logingate/internal/models"
	"logingate/internal/repository"
	"logingate/internal/security"
)

type AuthService struct {
	accounts repository.AccountStore
	sessions *SessionManager
	remember *RememberService
	hasher   security.CredentialHasher
	audit    audit.Publisher
	metrics  *metrics.Metrics
	cfg      config.SecurityConfig
	log      zerolog.Logger
}

func NewAuthService(
	accounts repository.AccountStore,
	sessions *SessionManager,
	remember *RememberService,
	hasher security.CredentialHasher,
	publisher audit.Publisher,
	m *metrics.Metrics,
	cfg config.SecurityConfig,
	log zerolog.Logger,
) *AuthService {
	if publisher == nil {
		publisher = audit.NopPublisher{}
	}
	return &AuthService{
		accounts: accounts,
		sessions: sessions,
		remember: remember,
		hasher:   hasher,
		audit:    publisher,
		metrics:  m,
		cfg:      cfg,
		log:      log,
	}
}

type LoginInput struct {
	Email     string
	Password  string
	Remember  bool
	IPAddress string
	UserAgent string
}

type LoginResult struct {
	Session models.Session
	// PriorSessionInvalidated is set when the account already had a
	// different current session, which is now superseded.
	PriorSessionInvalidated bool
	RememberToken           string
	RememberUntil           time.Time
}

// Login authenticates input and, on success, makes the new session the
// account's only current one. Expected failures are reported as
// ErrUserNotFound, ErrAccountLocked or ErrInvalidPassword.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (LoginResult, error) {
	email := NormalizeEmail(input.Email)
	logger := applog.FromContext(ctx, s.log).With().Str("email", email).Str("ip", input.IPAddress).Logger()

	account, err := s.accounts.Lookup(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			s.rejected(ctx, input, email, ErrUserNotFound)
			return LoginResult{}, s.slowDown(ctx, ErrUserNotFound)
		}
		return LoginResult{}, fmt.Errorf("lookup account: %w", err)
	}

	if !account.Active {
		s.rejected(ctx, input, email, ErrAccountLocked)
		return LoginResult{}, ErrAccountLocked
	}

	if account.FailedAttempts >= s.cfg.MaxAttempts {
		if err := s.accounts.Lock(ctx, email); err != nil {
			return LoginResult{}, fmt.Errorf("lock account: %w", err)
		}
		logger.Warn().Int("failed_attempts", account.FailedAttempts).Msg("active account over attempt limit, locked")
		s.lockedOut(ctx, input, email)
		s.rejected(ctx, input, email, ErrAccountLocked)
		return LoginResult{}, ErrAccountLocked
	}

	ok, err := s.hasher.Verify(input.Password, account.Credential)
	if err != nil {
		return LoginResult{}, fmt.Errorf("verify credential: %w", err)
	}
	if !ok {
		updated, err := s.accounts.RecordFailedAttempt(ctx, email, s.cfg.MaxAttempts)
		if err != nil {
			// Locked by a concurrent attempt after our lookup.
			if errors.Is(err, repository.ErrAccountInactive) {
				s.rejected(ctx, input, email, ErrAccountLocked)
				return LoginResult{}, ErrAccountLocked
			}
			return LoginResult{}, fmt.Errorf("record failed attempt: %w", err)
		}
		// Only the call that reaches the threshold sees the count equal to it.
		if !updated.Active && updated.FailedAttempts == s.cfg.MaxAttempts {
			logger.Warn().Msg("account locked after repeated failures")
			s.lockedOut(ctx, input, email)
		}
		s.rejected(ctx, input, email, ErrInvalidPassword)
		return LoginResult{}, s.slowDown(ctx, ErrInvalidPassword)
	}

	session, err := s.sessions.Create(ctx, account, false)
	if err != nil {
		if errors.Is(err, ErrAccountLocked) || errors.Is(err, ErrUserNotFound) {
			s.rejected(ctx, input, email, ErrAccountLocked)
			return LoginResult{}, ErrAccountLocked
		}
		return LoginResult{}, err
	}

	now := s.sessions.Now()
	previous, err := s.accounts.RecordSuccess(ctx, email, session.Token, now)
	if err != nil {
		if destroyErr := s.sessions.Destroy(ctx, session.Token); destroyErr != nil {
			logger.Error().Err(destroyErr).Str("session_id", session.ID).Msg("discard orphaned session failed")
		}
		if errors.Is(err, repository.ErrAccountInactive) {
			s.rejected(ctx, input, email, ErrAccountLocked)
			return LoginResult{}, ErrAccountLocked
		}
		return LoginResult{}, fmt.Errorf("record success: %w", err)
	}

	result := LoginResult{
		Session:                 session,
		PriorSessionInvalidated: previous != "" && previous != session.Token,
	}

	if input.Remember && s.remember != nil {
		token, until, err := s.remember.Issue(email, now)
		if err != nil {
			// The login itself stands; only persistence is lost.
			logger.Error().Err(err).Msg("issue remember token failed")
		} else {
			result.RememberToken = token
			result.RememberUntil = until
		}
	}

	s.metrics.LoginOutcome(OutcomeSuccess)
	if result.PriorSessionInvalidated {
		s.metrics.SessionEvent("superseded")
		s.publish(ctx, audit.Event{
			Type:      audit.EventSessionSuperseded,
			Email:     email,
			SessionID: session.ID,
			Reason:    "new login",
			IPAddress: input.IPAddress,
			UserAgent: input.UserAgent,
		})
	}
	s.publish(ctx, audit.Event{
		Type:      audit.EventLoginSucceeded,
		Email:     email,
		SessionID: session.ID,
		IPAddress: input.IPAddress,
		UserAgent: input.UserAgent,
	})
	logger.Info().
		Str("session_id", session.ID).
		Bool("remember", result.RememberToken != "").
		Bool("prior_session_invalidated", result.PriorSessionInvalidated).
		Msg("login succeeded")

	return result, nil
}

// Logout destroys the session behind token and clears its owner's current
// session token. It succeeds even when the session is already gone.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	session, err := s.sessions.Get(ctx, token)
	if err != nil && !errors.Is(err, ErrNoSession) {
		return err
	}
	if err := s.sessions.Destroy(ctx, token); err != nil {
		return err
	}
	if session.Email == "" {
		return nil
	}
	if err := s.accounts.InvalidateSessionToken(ctx, session.Email); err != nil &&
		!errors.Is(err, repository.ErrAccountNotFound) {
		return fmt.Errorf("invalidate session token: %w", err)
	}

	s.publish(ctx, audit.Event{
		Type:      audit.EventLogout,
		Email:     session.Email,
		SessionID: session.ID,
	})
	logger := applog.FromContext(ctx, s.log)
	logger.Info().Str("email", session.Email).Str("session_id", session.ID).Msg("logged out")
	return nil
}

// slowDown holds a failed attempt for the configured delay so response time
// does not tell a missing account from a wrong password. No store lock is
// held while waiting.
func (s *AuthService) slowDown(ctx context.Context, outcome error) error {
	if s.cfg.InvalidPasswordDelay <= 0 {
		return outcome
	}
	timer := time.NewTimer(s.cfg.InvalidPasswordDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
	return outcome
}

func (s *AuthService) rejected(ctx context.Context, input LoginInput, email string, outcome error) {
	s.metrics.LoginOutcome(Outcome(outcome))
	logger := applog.FromContext(ctx, s.log)
	logger.Info().Str("email", email).Str("ip", input.IPAddress).Str("outcome", Outcome(outcome)).Msg("login rejected")
	s.publish(ctx, audit.Event{
		Type:      audit.EventLoginFailed,
		Email:     email,
		Reason:    Outcome(outcome),
		IPAddress: input.IPAddress,
		UserAgent: input.UserAgent,
	})
}

func (s *AuthService) lockedOut(ctx context.Context, input LoginInput, email string) {
	s.metrics.Lockout()
	s.publish(ctx, audit.Event{
		Type:      audit.EventAccountLocked,
		Email:     email,
		IPAddress: input.IPAddress,
		UserAgent: input.UserAgent,
	})
}

// publish never fails the caller; the audit trail is best effort.
func (s *AuthService) publish(ctx context.Context, event audit.Event) {
	if err := s.audit.Publish(ctx, event); err != nil {
		logger := applog.FromContext(ctx, s.log)
		logger.Warn().Err(err).Str("event", string(event.Type)).Msg("audit publish failed")
	}
}

func NormalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}
