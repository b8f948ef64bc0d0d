package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logingate/internal/models"
)

func seededAccounts(t *testing.T) *MemoryAccountStore {
	t.Helper()
	store := NewMemoryAccountStore()
	created, err := store.Ensure(context.Background(), models.Account{
		Email:      "admin@example.com",
		Credential: []byte("Admin123!"),
		Role:       models.RoleAdmin,
		Active:     true,
	})
	require.NoError(t, err)
	require.True(t, created)
	return store
}

func TestMemoryAccountLookupMissing(t *testing.T) {
	store := NewMemoryAccountStore()
	_, err := store.Lookup(context.Background(), "ghost@example.com")
	require.ErrorIs(t, err, ErrAccountNotFound)
}

func TestMemoryAccountLockoutAtThreshold(t *testing.T) {
	ctx := context.Background()
	store := seededAccounts(t)

	acc, err := store.RecordFailedAttempt(ctx, "admin@example.com", 3)
	require.NoError(t, err)
	assert.Equal(t, 1, acc.FailedAttempts)
	assert.True(t, acc.Active)

	_, err = store.RecordFailedAttempt(ctx, "admin@example.com", 3)
	require.NoError(t, err)
	acc, err = store.RecordFailedAttempt(ctx, "admin@example.com", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, acc.FailedAttempts)
	assert.False(t, acc.Active)
}

func TestMemoryAccountConcurrentFailuresKeepInvariant(t *testing.T) {
	ctx := context.Background()
	store := seededAccounts(t)

	const workers = 64
	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		transitions int
		refused     int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			acc, err := store.RecordFailedAttempt(ctx, "admin@example.com", 3)
			if errors.Is(err, ErrAccountInactive) {
				mu.Lock()
				refused++
				mu.Unlock()
				return
			}
			if err != nil {
				t.Error(err)
				return
			}
			if acc.FailedAttempts == 3 {
				mu.Lock()
				transitions++
				mu.Unlock()
			}
			if acc.FailedAttempts >= 3 && acc.Active {
				t.Errorf("account active with %d failures", acc.FailedAttempts)
			}
		}()
	}
	wg.Wait()

	acc, err := store.Lookup(ctx, "admin@example.com")
	require.NoError(t, err)
	assert.Equal(t, 3, acc.FailedAttempts)
	assert.False(t, acc.Active)
	assert.Equal(t, 1, transitions)
	assert.Equal(t, workers-3, refused)
}

func TestMemoryAccountFailedAttemptOnLockedAccount(t *testing.T) {
	ctx := context.Background()
	store := seededAccounts(t)
	require.NoError(t, store.Lock(ctx, "admin@example.com"))

	_, err := store.RecordFailedAttempt(ctx, "admin@example.com", 3)
	require.ErrorIs(t, err, ErrAccountInactive)

	acc, err := store.Lookup(ctx, "admin@example.com")
	require.NoError(t, err)
	assert.Zero(t, acc.FailedAttempts)
}

func TestMemoryAccountRecordSuccess(t *testing.T) {
	ctx := context.Background()
	store := seededAccounts(t)
	now := time.Now()

	_, err := store.RecordFailedAttempt(ctx, "admin@example.com", 3)
	require.NoError(t, err)

	prev, err := store.RecordSuccess(ctx, "admin@example.com", "tok-1", now)
	require.NoError(t, err)
	assert.Empty(t, prev)

	prev, err = store.RecordSuccess(ctx, "admin@example.com", "tok-2", now)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", prev)

	acc, err := store.Lookup(ctx, "admin@example.com")
	require.NoError(t, err)
	assert.Zero(t, acc.FailedAttempts)
	assert.Equal(t, "tok-2", acc.CurrentSessionToken)
	require.NotNil(t, acc.LastLoginAt)
	assert.True(t, acc.LastLoginAt.Equal(now))
}

func TestMemoryAccountRefusesInactive(t *testing.T) {
	ctx := context.Background()
	store := seededAccounts(t)
	require.NoError(t, store.Lock(ctx, "admin@example.com"))

	_, err := store.RecordSuccess(ctx, "admin@example.com", "tok", time.Now())
	require.ErrorIs(t, err, ErrAccountInactive)
	_, err = store.SwapSessionToken(ctx, "admin@example.com", "tok")
	require.ErrorIs(t, err, ErrAccountInactive)
}

func TestMemoryAccountSwapAndInvalidate(t *testing.T) {
	ctx := context.Background()
	store := seededAccounts(t)

	_, err := store.RecordFailedAttempt(ctx, "admin@example.com", 3)
	require.NoError(t, err)

	prev, err := store.SwapSessionToken(ctx, "admin@example.com", "tok-r")
	require.NoError(t, err)
	assert.Empty(t, prev)

	acc, err := store.Lookup(ctx, "admin@example.com")
	require.NoError(t, err)
	assert.Equal(t, "tok-r", acc.CurrentSessionToken)
	assert.Equal(t, 1, acc.FailedAttempts, "resume must not reset attempts")
	assert.Nil(t, acc.LastLoginAt)

	require.NoError(t, store.InvalidateSessionToken(ctx, "admin@example.com"))
	acc, err = store.Lookup(ctx, "admin@example.com")
	require.NoError(t, err)
	assert.Empty(t, acc.CurrentSessionToken)
}

func TestMemoryAccountLookupReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := seededAccounts(t)

	acc, err := store.Lookup(ctx, "admin@example.com")
	require.NoError(t, err)
	acc.Credential[0] = 'X'
	acc.Active = false

	again, err := store.Lookup(ctx, "admin@example.com")
	require.NoError(t, err)
	assert.Equal(t, []byte("Admin123!"), again.Credential)
	assert.True(t, again.Active)
}

func TestMemoryAccountEnsureKeepsExisting(t *testing.T) {
	ctx := context.Background()
	store := seededAccounts(t)
	require.NoError(t, store.Lock(ctx, "admin@example.com"))

	created, err := store.Ensure(ctx, models.Account{Email: "admin@example.com", Active: true})
	require.NoError(t, err)
	assert.False(t, created)

	acc, err := store.Lookup(ctx, "admin@example.com")
	require.NoError(t, err)
	assert.False(t, acc.Active)
}
