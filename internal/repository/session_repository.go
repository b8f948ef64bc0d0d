package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"logingate/internal/models"
)

const sessionColumns = `token, id, email, role, remembered, created_at, last_activity_at`

// SessionRepository is the postgres SessionStore.
type SessionRepository struct {
	db *sql.DB
}

func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Insert(ctx context.Context, session models.Session) error {
	const query = `
		INSERT INTO sessions (token, id, email, role, remembered, created_at, last_activity_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (token) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query,
		session.Token,
		session.ID,
		session.Email,
		string(session.Role),
		session.Remembered,
		session.CreatedAt,
		session.LastActivityAt,
	)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return ErrSessionExists
	}
	return nil
}

func (r *SessionRepository) Get(ctx context.Context, token string) (models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE token = $1`
	return scanSession(r.db.QueryRowContext(ctx, query, token))
}

func (r *SessionRepository) Touch(ctx context.Context, token string, now time.Time, idle time.Duration) (models.Session, error) {
	cutoff := now.Add(-idle)
	update := `
		UPDATE sessions
		SET last_activity_at = $2
		WHERE token = $1 AND last_activity_at > $3
		RETURNING ` + sessionColumns

	session, err := scanSession(r.db.QueryRowContext(ctx, update, token, now, cutoff))
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, ErrSessionNotFound) {
		return models.Session{}, err
	}

	// Either the token is unknown or it has been idle too long.
	const expire = `DELETE FROM sessions WHERE token = $1 AND last_activity_at <= $2`
	res, err := r.db.ExecContext(ctx, expire, token, cutoff)
	if err != nil {
		return models.Session{}, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return models.Session{}, fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return models.Session{}, ErrSessionNotFound
	}
	return models.Session{}, ErrSessionExpired
}

func (r *SessionRepository) Delete(ctx context.Context, token string) error {
	const query = `DELETE FROM sessions WHERE token = $1`
	if _, err := r.db.ExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *SessionRepository) DeleteIdleBefore(ctx context.Context, cutoff time.Time) (int, error) {
	const query = `DELETE FROM sessions WHERE last_activity_at < $1`
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return int(n), nil
}

func scanSession(row *sql.Row) (models.Session, error) {
	var (
		session models.Session
		role    string
	)
	if err := row.Scan(
		&session.Token,
		&session.ID,
		&session.Email,
		&role,
		&session.Remembered,
		&session.CreatedAt,
		&session.LastActivityAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Session{}, ErrSessionNotFound
		}
		return models.Session{}, fmt.Errorf("db error: %w", err)
	}
	session.Role = models.Role(role)
	return session, nil
}
