package service

import "errors"

// Expected, user-facing outcomes. Anything else returned by this package is
// an infrastructure failure.
var (
	ErrUserNotFound      = errors.New("user not found")
	ErrAccountLocked     = errors.New("account locked")
	ErrInvalidPassword   = errors.New("invalid password")
	ErrSessionExpired    = errors.New("session expired")
	ErrSessionSuperseded = errors.New("session superseded")
	ErrNoSession         = errors.New("no session")
)

const OutcomeSuccess = "success"

// Outcome returns a stable label for err suitable for metrics and audit
// records.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, ErrAccountLocked):
		return "account_locked"
	case errors.Is(err, ErrInvalidPassword):
		return "invalid_password"
	case errors.Is(err, ErrSessionExpired):
		return "session_expired"
	case errors.Is(err, ErrSessionSuperseded):
		return "session_superseded"
	case errors.Is(err, ErrNoSession):
		return "no_session"
	default:
		return "error"
	}
}
