package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"logingate/internal/database"
	"logingate/internal/models"
)

const accountColumns = `email, credential, role, active, failed_attempts, last_login_at, current_session_token, created_at, updated_at`

// AccountRepository is the postgres AccountStore. Each mutation is a single
// row-locking statement or a short transaction holding the row lock.
type AccountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) Lookup(ctx context.Context, email string) (models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1`
	return scanAccount(r.db.QueryRowContext(ctx, query, email))
}

func (r *AccountRepository) RecordFailedAttempt(ctx context.Context, email string, maxAttempts int) (models.Account, error) {
	query := `
		UPDATE accounts
		SET failed_attempts = failed_attempts + 1,
		    active = CASE WHEN failed_attempts + 1 >= $2 THEN FALSE ELSE active END,
		    updated_at = NOW()
		WHERE email = $1 AND active
		RETURNING ` + accountColumns

	account, err := scanAccount(r.db.QueryRowContext(ctx, query, email, maxAttempts))
	if !errors.Is(err, ErrAccountNotFound) {
		return account, err
	}
	// No row updated: either the account is missing or it is already locked.
	if _, lookupErr := r.Lookup(ctx, email); lookupErr != nil {
		return models.Account{}, lookupErr
	}
	return models.Account{}, ErrAccountInactive
}

func (r *AccountRepository) Lock(ctx context.Context, email string) error {
	const query = `UPDATE accounts SET active = FALSE, updated_at = NOW() WHERE email = $1`
	return r.execOne(ctx, query, email)
}

func (r *AccountRepository) RecordSuccess(ctx context.Context, email string, token string, now time.Time) (string, error) {
	const update = `
		UPDATE accounts
		SET failed_attempts = 0, last_login_at = $2, current_session_token = $3, updated_at = NOW()
		WHERE email = $1
	`
	return r.swapToken(ctx, email, update, email, now, token)
}

func (r *AccountRepository) SwapSessionToken(ctx context.Context, email string, token string) (string, error) {
	const update = `
		UPDATE accounts
		SET current_session_token = $2, updated_at = NOW()
		WHERE email = $1
	`
	return r.swapToken(ctx, email, update, email, token)
}

func (r *AccountRepository) swapToken(ctx context.Context, email string, update string, args ...any) (string, error) {
	const selectForUpdate = `SELECT active, current_session_token FROM accounts WHERE email = $1 FOR UPDATE`

	var previous string
	err := database.WithTx(ctx, r.db, func(ctx context.Context, tx database.DBTX) error {
		var (
			active  bool
			current sql.NullString
		)
		if err := tx.QueryRowContext(ctx, selectForUpdate, email).Scan(&active, &current); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrAccountNotFound
			}
			return fmt.Errorf("db error: %w", err)
		}
		if !active {
			return ErrAccountInactive
		}
		if _, err := tx.ExecContext(ctx, update, args...); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		previous = current.String
		return nil
	})
	if err != nil {
		return "", err
	}
	return previous, nil
}

func (r *AccountRepository) InvalidateSessionToken(ctx context.Context, email string) error {
	const query = `UPDATE accounts SET current_session_token = NULL, updated_at = NOW() WHERE email = $1`
	return r.execOne(ctx, query, email)
}

func (r *AccountRepository) Ensure(ctx context.Context, account models.Account) (bool, error) {
	const query = `
		INSERT INTO accounts (email, credential, role, active, failed_attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (email) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query,
		account.Email,
		account.Credential,
		string(account.Role),
		account.Active,
		account.FailedAttempts,
	)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n == 1, nil
}

func (r *AccountRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func scanAccount(row *sql.Row) (models.Account, error) {
	var (
		account     models.Account
		role        string
		lastLoginAt sql.NullTime
		token       sql.NullString
	)
	if err := row.Scan(
		&account.Email,
		&account.Credential,
		&role,
		&account.Active,
		&account.FailedAttempts,
		&lastLoginAt,
		&token,
		&account.CreatedAt,
		&account.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Account{}, ErrAccountNotFound
		}
		return models.Account{}, fmt.Errorf("db error: %w", err)
	}
	account.Role = models.Role(role)
	if lastLoginAt.Valid {
		t := lastLoginAt.Time
		account.LastLoginAt = &t
	}
	account.CurrentSessionToken = token.String
	return account, nil
}
