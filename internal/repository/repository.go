package repository

import (
	"context"
	"errors"
	"time"

	"logingate/internal/models"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountInactive = errors.New("account inactive")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
	ErrSessionExists   = errors.New("session token already exists")
)

// AccountStore holds per-account credential, lockout and current-session
// state. Every mutating method is atomic with respect to other calls on the
// same email.
type AccountStore interface {
	Lookup(ctx context.Context, email string) (models.Account, error)
	// RecordFailedAttempt increments the failure counter and deactivates the
	// account once the counter reaches maxAttempts. It returns the account
	// as it stands after the update. Inactive accounts are refused with
	// ErrAccountInactive and their counter is left alone.
	RecordFailedAttempt(ctx context.Context, email string, maxAttempts int) (models.Account, error)
	Lock(ctx context.Context, email string) error
	// RecordSuccess resets the failure counter, stamps LastLoginAt and makes
	// token the current session token, returning the token it replaced.
	// Inactive accounts are refused with ErrAccountInactive.
	RecordSuccess(ctx context.Context, email string, token string, now time.Time) (string, error)
	// SwapSessionToken replaces the current session token without touching
	// the failure counter or LastLoginAt.
	SwapSessionToken(ctx context.Context, email string, token string) (string, error)
	InvalidateSessionToken(ctx context.Context, email string) error
	// Ensure inserts the account unless one with the same email exists and
	// reports whether it did. Existing accounts are left untouched.
	Ensure(ctx context.Context, account models.Account) (bool, error)
}

// SessionStore persists sessions keyed by token.
type SessionStore interface {
	// Insert fails with ErrSessionExists if the token is already present.
	Insert(ctx context.Context, session models.Session) error
	Get(ctx context.Context, token string) (models.Session, error)
	// Touch refreshes LastActivityAt to now unless the session has been idle
	// for at least idle, in which case it is removed and ErrSessionExpired is
	// returned. The check and the update happen as one step.
	Touch(ctx context.Context, token string, now time.Time, idle time.Duration) (models.Session, error)
	// Delete is idempotent.
	Delete(ctx context.Context, token string) error
	// DeleteIdleBefore removes sessions whose last activity is before cutoff.
	DeleteIdleBefore(ctx context.Context, cutoff time.Time) (int, error)
}

func expired(last time.Time, now time.Time, idle time.Duration) bool {
	return now.Sub(last) >= idle
}
