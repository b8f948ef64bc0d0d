package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"logingate/internal/audit"
	applog "logingate/internal/log"
	"logingate/internal/models"
	"logingate/internal/repository"
	"logingate/internal/security"
)

var ErrInvalidRememberToken = security.ErrInvalidRememberToken

// RememberService issues remember-me cookie values and turns them back into
// sessions without a password.
type RememberService struct {
	accounts repository.AccountStore
	sessions *SessionManager
	codec    security.RememberCodec
	ttl      time.Duration
	audit    audit.Publisher
	log      zerolog.Logger
}

func NewRememberService(
	accounts repository.AccountStore,
	sessions *SessionManager,
	codec security.RememberCodec,
	ttl time.Duration,
	publisher audit.Publisher,
	log zerolog.Logger,
) *RememberService {
	if publisher == nil {
		publisher = audit.NopPublisher{}
	}
	return &RememberService{
		accounts: accounts,
		sessions: sessions,
		codec:    codec,
		ttl:      ttl,
		audit:    publisher,
		log:      log,
	}
}

func (s *RememberService) TTL() time.Duration {
	return s.ttl
}

// Issue returns the cookie value for email and the instant it stops being
// honoured.
func (s *RememberService) Issue(email string, now time.Time) (string, time.Time, error) {
	value, err := s.codec.Encode(email, now)
	if err != nil {
		return "", time.Time{}, err
	}
	return value, now.Add(s.ttl), nil
}

// Resume mints a session for the account named by the cookie value. The
// password is not checked and the attempt counter is untouched, but the new
// session replaces any current one exactly like a password login does.
func (s *RememberService) Resume(ctx context.Context, cookieValue string) (models.Session, error) {
	email, err := s.codec.Decode(cookieValue)
	if err != nil {
		return models.Session{}, err
	}
	email = NormalizeEmail(email)

	account, err := s.accounts.Lookup(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return models.Session{}, ErrUserNotFound
		}
		return models.Session{}, fmt.Errorf("lookup account: %w", err)
	}
	if !account.Active {
		return models.Session{}, ErrAccountLocked
	}

	session, err := s.sessions.Create(ctx, account, true)
	if err != nil {
		return models.Session{}, err
	}

	previous, err := s.accounts.SwapSessionToken(ctx, email, session.Token)
	if err != nil {
		if destroyErr := s.sessions.Destroy(ctx, session.Token); destroyErr != nil {
			logger := applog.FromContext(ctx, s.log)
			logger.Error().Err(destroyErr).Str("session_id", session.ID).Msg("discard orphaned session failed")
		}
		if errors.Is(err, repository.ErrAccountInactive) {
			return models.Session{}, ErrAccountLocked
		}
		return models.Session{}, fmt.Errorf("swap session token: %w", err)
	}

	if previous != "" && previous != session.Token {
		s.publish(ctx, audit.Event{
			Type:      audit.EventSessionSuperseded,
			Email:     email,
			SessionID: session.ID,
			Reason:    "remember resume",
		})
	}
	s.publish(ctx, audit.Event{
		Type:      audit.EventSessionResumed,
		Email:     email,
		SessionID: session.ID,
	})
	logger := applog.FromContext(ctx, s.log)
	logger.Info().Str("email", email).Str("session_id", session.ID).Msg("session resumed from remember cookie")
	return session, nil
}

func (s *RememberService) publish(ctx context.Context, event audit.Event) {
	if err := s.audit.Publish(ctx, event); err != nil {
		logger := applog.FromContext(ctx, s.log)
		logger.Warn().Err(err).Str("event", string(event.Type)).Msg("audit publish failed")
	}
}
