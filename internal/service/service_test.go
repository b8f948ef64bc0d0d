package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"logingate/internal/audit"
	"logingate/internal/config"
	"logingate/internal/models"
	"logingate/internal/repository"
	"logingate/internal/security"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []audit.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e audit.Event) error {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) count(t audit.EventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

type harness struct {
	accounts *repository.MemoryAccountStore
	sessions *repository.MemorySessionStore
	manager  *SessionManager
	remember *RememberService
	auth     *AuthService
	clock    *fakeClock
	events   *recordingPublisher
}

func newHarness(t *testing.T, delay time.Duration) *harness {
	t.Helper()
	return newHarnessWithHasher(t, delay, security.PlainHasher{})
}

func newHarnessWithHasher(t *testing.T, delay time.Duration, hasher security.CredentialHasher) *harness {
	t.Helper()
	log := zerolog.Nop()
	h := &harness{
		accounts: repository.NewMemoryAccountStore(),
		sessions: repository.NewMemorySessionStore(),
		clock:    &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)},
		events:   &recordingPublisher{},
	}
	cfg := config.SecurityConfig{
		MaxAttempts:          3,
		IdleTimeout:          5 * time.Minute,
		InvalidPasswordDelay: delay,
		Remember:             config.RememberConfig{CookieName: "remember_me", TTL: 30 * 24 * time.Hour},
	}
	h.manager = NewSessionManager(h.accounts, h.sessions, cfg.IdleTimeout, 24*time.Hour, nil, log)
	h.manager.SetClock(h.clock.Now)
	h.remember = NewRememberService(h.accounts, h.manager, security.NewRememberCodec("", cfg.Remember.TTL), cfg.Remember.TTL, h.events, log)
	h.auth = NewAuthService(h.accounts, h.manager, h.remember, hasher, h.events, nil, cfg, log)

	require.NoError(t, SeedAccounts(context.Background(), h.accounts, security.PlainHasher{}, []config.SeedAccount{
		{Email: "admin@example.com", Password: "Admin123!", Role: "admin", Active: true},
		{Email: "locked@example.com", Password: "Locked123!", Role: "user", Active: false},
		{Email: "fresh@example.com", Password: "Fresh123!", Role: "user", Active: true},
	}, log))
	return h
}

func (h *harness) login(t *testing.T, email, password string) (LoginResult, error) {
	t.Helper()
	return h.auth.Login(context.Background(), LoginInput{Email: email, Password: password, IPAddress: "192.0.2.1"})
}

func (h *harness) account(t *testing.T, email string) models.Account {
	t.Helper()
	account, err := h.accounts.Lookup(context.Background(), email)
	require.NoError(t, err)
	return account
}

func TestLoginSucceedsForActiveAccount(t *testing.T) {
	h := newHarness(t, 0)

	result, err := h.login(t, "admin@example.com", "Admin123!")
	require.NoError(t, err)
	require.NotEmpty(t, result.Session.Token)
	require.Equal(t, models.RoleAdmin, result.Session.Role)
	require.False(t, result.PriorSessionInvalidated)
	require.Empty(t, result.RememberToken)

	account := h.account(t, "admin@example.com")
	require.Equal(t, 0, account.FailedAttempts)
	require.Equal(t, result.Session.Token, account.CurrentSessionToken)
	require.NotNil(t, account.LastLoginAt)
	require.Equal(t, 1, h.events.count(audit.EventLoginSucceeded))
}

func TestLoginNormalizesEmail(t *testing.T) {
	h := newHarness(t, 0)

	_, err := h.login(t, "  Admin@Example.COM ", "Admin123!")
	require.NoError(t, err)
}

func TestLoginInactiveAccountIsLocked(t *testing.T) {
	h := newHarness(t, 0)

	for _, password := range []string{"Locked123!", "wrong"} {
		_, err := h.login(t, "locked@example.com", password)
		require.ErrorIs(t, err, ErrAccountLocked)
	}
	require.Equal(t, 0, h.account(t, "locked@example.com").FailedAttempts)
}

func TestLoginUnknownUser(t *testing.T) {
	h := newHarness(t, 0)

	_, err := h.login(t, "nobody@example.com", "whatever")
	require.ErrorIs(t, err, ErrUserNotFound)
	require.Equal(t, 1, h.events.count(audit.EventLoginFailed))
}

func TestThreeFailuresLockTheAccount(t *testing.T) {
	h := newHarness(t, 0)

	for i := 1; i <= 3; i++ {
		_, err := h.login(t, "fresh@example.com", "nope")
		require.ErrorIs(t, err, ErrInvalidPassword)
		require.Equal(t, i, h.account(t, "fresh@example.com").FailedAttempts)
	}
	require.False(t, h.account(t, "fresh@example.com").Active)

	_, err := h.login(t, "fresh@example.com", "Fresh123!")
	require.ErrorIs(t, err, ErrAccountLocked)
	require.Equal(t, 1, h.events.count(audit.EventAccountLocked))
}

func TestSuccessResetsFailedAttempts(t *testing.T) {
	h := newHarness(t, 0)

	for i := 0; i < 2; i++ {
		_, err := h.login(t, "fresh@example.com", "nope")
		require.ErrorIs(t, err, ErrInvalidPassword)
	}
	_, err := h.login(t, "fresh@example.com", "Fresh123!")
	require.NoError(t, err)
	require.Equal(t, 0, h.account(t, "fresh@example.com").FailedAttempts)
}

func TestActiveAccountOverLimitIsLockedDefensively(t *testing.T) {
	h := newHarness(t, 0)
	_, err := h.accounts.Ensure(context.Background(), models.Account{
		Email:          "stale@example.com",
		Credential:     []byte("Stale123!"),
		Role:           models.RoleUser,
		Active:         true,
		FailedAttempts: 3,
	})
	require.NoError(t, err)

	_, err = h.login(t, "stale@example.com", "Stale123!")
	require.ErrorIs(t, err, ErrAccountLocked)
	require.False(t, h.account(t, "stale@example.com").Active)
}

func TestConcurrentFailuresLockExactlyOnce(t *testing.T) {
	h := newHarness(t, 0)

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.auth.Login(context.Background(), LoginInput{Email: "fresh@example.com", Password: "nope"})
		}()
	}
	wg.Wait()

	account := h.account(t, "fresh@example.com")
	require.False(t, account.Active)
	require.Equal(t, 3, account.FailedAttempts)
	require.Equal(t, 1, h.events.count(audit.EventAccountLocked))
}

// heldHasher parks Verify for one password until released, so a login can be
// paused between its account lookup and its failure bookkeeping.
type heldHasher struct {
	security.PlainHasher
	held     string
	entered  chan struct{}
	released chan struct{}
}

func (h *heldHasher) Verify(password string, credential []byte) (bool, error) {
	if password == h.held {
		close(h.entered)
		<-h.released
	}
	return h.PlainHasher.Verify(password, credential)
}

func TestStaleFailedAttemptOnLockedAccount(t *testing.T) {
	hasher := &heldHasher{held: "slow-wrong", entered: make(chan struct{}), released: make(chan struct{})}
	h := newHarnessWithHasher(t, 0, hasher)

	done := make(chan error, 1)
	go func() {
		_, err := h.auth.Login(context.Background(), LoginInput{Email: "fresh@example.com", Password: "slow-wrong"})
		done <- err
	}()
	<-hasher.entered

	for i := 0; i < 3; i++ {
		_, err := h.login(t, "fresh@example.com", "nope")
		require.ErrorIs(t, err, ErrInvalidPassword)
	}
	require.False(t, h.account(t, "fresh@example.com").Active)

	close(hasher.released)
	require.ErrorIs(t, <-done, ErrAccountLocked)

	account := h.account(t, "fresh@example.com")
	require.Equal(t, 3, account.FailedAttempts)
	require.False(t, account.Active)
}

func TestFailedLoginIsDelayed(t *testing.T) {
	h := newHarness(t, 60*time.Millisecond)

	start := time.Now()
	_, err := h.login(t, "fresh@example.com", "nope")
	require.ErrorIs(t, err, ErrInvalidPassword)
	require.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)

	start = time.Now()
	_, err = h.login(t, "ghost@example.com", "nope")
	require.ErrorIs(t, err, ErrUserNotFound)
	require.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestDelayDoesNotBlockOtherLogins(t *testing.T) {
	h := newHarness(t, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := h.auth.Login(ctx, LoginInput{Email: "fresh@example.com", Password: "nope"})
		done <- err
	}()

	require.Eventually(t, func() bool {
		return h.account(t, "fresh@example.com").FailedAttempts == 1
	}, time.Second, 5*time.Millisecond)

	result, err := h.login(t, "fresh@example.com", "Fresh123!")
	require.NoError(t, err)
	require.NotEmpty(t, result.Session.Token)

	select {
	case <-done:
		t.Fatal("delayed attempt returned before cancellation")
	default:
	}

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrInvalidPassword)
	case <-time.After(time.Second):
		t.Fatal("delayed attempt ignored cancellation")
	}
}

func TestIdleSessionExpires(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	result, err := h.login(t, "admin@example.com", "Admin123!")
	require.NoError(t, err)

	h.clock.Advance(301 * time.Second)
	_, err = h.manager.Validate(ctx, result.Session.Token)
	require.ErrorIs(t, err, ErrSessionExpired)

	_, err = h.manager.Get(ctx, result.Session.Token)
	require.ErrorIs(t, err, ErrNoSession)
}

func TestIdleTimeoutBoundary(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	result, err := h.login(t, "admin@example.com", "Admin123!")
	require.NoError(t, err)
	token := result.Session.Token

	h.clock.Advance(299 * time.Second)
	_, err = h.manager.Validate(ctx, token)
	require.NoError(t, err)

	// Activity restarts the window.
	h.clock.Advance(299 * time.Second)
	_, err = h.manager.Validate(ctx, token)
	require.NoError(t, err)

	h.clock.Advance(300 * time.Second)
	_, err = h.manager.Touch(ctx, token)
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestSecondLoginSupersedesFirst(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	first, err := h.login(t, "admin@example.com", "Admin123!")
	require.NoError(t, err)
	second, err := h.login(t, "admin@example.com", "Admin123!")
	require.NoError(t, err)
	require.True(t, second.PriorSessionInvalidated)
	require.NotEqual(t, first.Session.Token, second.Session.Token)

	_, err = h.manager.Validate(ctx, first.Session.Token)
	require.ErrorIs(t, err, ErrSessionSuperseded)

	current, err := h.manager.IsCurrent(ctx, first.Session)
	require.NoError(t, err)
	require.False(t, current)

	session, err := h.manager.Validate(ctx, second.Session.Token)
	require.NoError(t, err)
	require.Equal(t, "admin@example.com", session.Email)
}

func TestLogoutRemovesSessionAndToken(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	result, err := h.login(t, "admin@example.com", "Admin123!")
	require.NoError(t, err)

	require.NoError(t, h.auth.Logout(ctx, result.Session.Token))
	_, err = h.manager.Get(ctx, result.Session.Token)
	require.ErrorIs(t, err, ErrNoSession)
	require.Empty(t, h.account(t, "admin@example.com").CurrentSessionToken)
	require.Equal(t, 1, h.events.count(audit.EventLogout))

	require.NoError(t, h.auth.Logout(ctx, result.Session.Token))
	require.NoError(t, h.auth.Logout(ctx, ""))
}

func TestLogoutOfSupersededSessionClearsToken(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	first, err := h.login(t, "admin@example.com", "Admin123!")
	require.NoError(t, err)
	second, err := h.login(t, "admin@example.com", "Admin123!")
	require.NoError(t, err)

	require.NoError(t, h.auth.Logout(ctx, first.Session.Token))
	require.Empty(t, h.account(t, "admin@example.com").CurrentSessionToken)

	_, err = h.manager.Validate(ctx, second.Session.Token)
	require.ErrorIs(t, err, ErrSessionSuperseded)
}

func TestRememberIssueAndResume(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	result, err := h.auth.Login(ctx, LoginInput{Email: "admin@example.com", Password: "Admin123!", Remember: true})
	require.NoError(t, err)
	require.Equal(t, "admin@example.com", result.RememberToken)
	require.Equal(t, h.clock.Now().Add(30*24*time.Hour), result.RememberUntil)

	resumed, err := h.remember.Resume(ctx, result.RememberToken)
	require.NoError(t, err)
	require.True(t, resumed.Remembered)
	require.Equal(t, models.RoleAdmin, resumed.Role)
	require.Equal(t, resumed.Token, h.account(t, "admin@example.com").CurrentSessionToken)

	_, err = h.manager.Validate(ctx, result.Session.Token)
	require.ErrorIs(t, err, ErrSessionSuperseded)
	require.Equal(t, 1, h.events.count(audit.EventSessionResumed))
}

func TestResumeLeavesAttemptsAlone(t *testing.T) {
	h := newHarness(t, 0)

	_, err := h.login(t, "fresh@example.com", "nope")
	require.ErrorIs(t, err, ErrInvalidPassword)

	_, err = h.remember.Resume(context.Background(), "fresh@example.com")
	require.NoError(t, err)
	account := h.account(t, "fresh@example.com")
	require.Equal(t, 1, account.FailedAttempts)
	require.Nil(t, account.LastLoginAt)
}

func TestResumeRejections(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	_, err := h.remember.Resume(ctx, "locked@example.com")
	require.ErrorIs(t, err, ErrAccountLocked)

	_, err = h.remember.Resume(ctx, "ghost@example.com")
	require.ErrorIs(t, err, ErrUserNotFound)

	_, err = h.remember.Resume(ctx, "  ")
	require.ErrorIs(t, err, ErrInvalidRememberToken)
}

func TestCreateRetriesOnTokenCollision(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	account := h.account(t, "admin@example.com")

	first, err := h.manager.Create(ctx, account, false)
	require.NoError(t, err)

	tokens := []string{first.Token, "fresh-token"}
	h.manager.newToken = func() (string, error) {
		next := tokens[0]
		tokens = tokens[1:]
		return next, nil
	}

	second, err := h.manager.Create(ctx, account, false)
	require.NoError(t, err)
	require.Equal(t, "fresh-token", second.Token)
}

func TestCreateRefusesInactiveAccount(t *testing.T) {
	h := newHarness(t, 0)

	_, err := h.manager.Create(context.Background(), models.Account{Email: "locked@example.com"}, false)
	require.ErrorIs(t, err, ErrAccountLocked)
}

func TestSweepRemovesStaleSessions(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	result, err := h.login(t, "admin@example.com", "Admin123!")
	require.NoError(t, err)

	removed, err := h.manager.Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, removed)

	h.clock.Advance(25 * time.Hour)
	removed, err = h.manager.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, err = h.manager.Validate(ctx, result.Session.Token)
	require.ErrorIs(t, err, ErrNoSession)
}

func TestSeedAccountsKeepsExisting(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = h.login(t, "fresh@example.com", "nope")
	}
	require.NoError(t, SeedAccounts(ctx, h.accounts, security.PlainHasher{}, []config.SeedAccount{
		{Email: "fresh@example.com", Password: "Fresh123!", Active: true},
	}, zerolog.Nop()))
	require.False(t, h.account(t, "fresh@example.com").Active)

	err := SeedAccounts(ctx, h.accounts, security.PlainHasher{}, []config.SeedAccount{
		{Email: "odd@example.com", Password: "x", Role: "root"},
	}, zerolog.Nop())
	require.Error(t, err)
}

func TestOutcomeLabels(t *testing.T) {
	require.Equal(t, OutcomeSuccess, Outcome(nil))
	require.Equal(t, "account_locked", Outcome(ErrAccountLocked))
	require.Equal(t, "invalid_password", Outcome(ErrInvalidPassword))
	require.Equal(t, "error", Outcome(context.Canceled))
}
