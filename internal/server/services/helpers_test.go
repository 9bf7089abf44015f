package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/modernapi/internal/server/auth"
	"github.com/dmitrijs2005/modernapi/internal/server/models"
	"github.com/dmitrijs2005/modernapi/internal/server/password"
	"github.com/dmitrijs2005/modernapi/internal/server/repositories/repomanager"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testSecret   = "0123456789abcdef0123456789abcdef"
	goodPassword = "Secr3tPass"
	newPassword  = "N3wSecretPass"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.Event
}

func (p *recordingPublisher) Dispatch(_ context.Context, events ...models.Event) {
	p.mu.Lock()
	p.events = append(p.events, events...)
	p.mu.Unlock()
}

func (p *recordingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventName())
	}
	return out
}

type recordingMetrics struct {
	mu          sync.Mutex
	auth        map[string]int
	revocations map[string]int64
	swept       int64
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{auth: map[string]int{}, revocations: map[string]int64{}}
}

func (m *recordingMetrics) ObserveAuth(op, res string) {
	m.mu.Lock()
	m.auth[op+"/"+res]++
	m.mu.Unlock()
}

func (m *recordingMetrics) ObserveRevocations(reason string, n int64) {
	m.mu.Lock()
	m.revocations[reason] += n
	m.mu.Unlock()
}

func (m *recordingMetrics) ObserveSweep(n int64) {
	m.mu.Lock()
	m.swept += n
	m.mu.Unlock()
}

type harness struct {
	clock    *fakeClock
	store    *repomanager.Store
	events   *recordingPublisher
	metrics  *recordingMetrics
	verifier *PasswordVerifier
	auth     *AuthService
	users    *UserService
}

var testLockout = models.LockoutPolicy{MaxFailedAccessAttempts: 3, LockoutDuration: 5 * time.Minute}

func testOptions() AuthOptions {
	return AuthOptions{
		RefreshTokenTTL:                7 * 24 * time.Hour,
		RememberMeRefreshTokenTTL:      30 * 24 * time.Hour,
		RevokeSessionsOnPasswordChange: true,
		PasswordPolicy:                 password.DefaultPolicy,
	}
}

func newHarness(t *testing.T) *harness {
	return newHarnessWith(t, repomanager.NewMemoryStore(), testOptions())
}

func newHarnessWith(t *testing.T, store *repomanager.Store, opts AuthOptions) *harness {
	t.Helper()

	h := &harness{
		clock:   &fakeClock{t: t0},
		store:   store,
		events:  &recordingPublisher{},
		metrics: newRecordingMetrics(),
	}

	issuer, err := auth.NewIssuer([]byte(testSecret), "modernapi", "modernapi-clients", 15*time.Minute, h.clock.Now)
	require.NoError(t, err)

	hasher := password.NewBcryptHasher(bcrypt.MinCost)
	h.verifier = NewPasswordVerifier(store, hasher, testLockout, h.events, nil, h.clock.Now)
	h.auth = NewAuthService(AuthDeps{
		Store:    store,
		Verifier: h.verifier,
		Hasher:   hasher,
		Issuer:   issuer,
		Events:   h.events,
		Metrics:  h.metrics,
		Clock:    h.clock.Now,
	}, opts)
	h.users = NewUserService(store, h.events, h.metrics, nil, h.clock.Now)
	return h
}

func (h *harness) register(t *testing.T, email string) *AuthResult {
	t.Helper()
	res, err := h.auth.Register(context.Background(), RegisterRequest{
		Email:           email,
		Password:        goodPassword,
		ConfirmPassword: goodPassword,
		DisplayName:     "Test User",
	})
	require.NoError(t, err)
	return res
}

func (h *harness) login(t *testing.T, email string) *AuthResult {
	t.Helper()
	res, err := h.auth.Login(context.Background(), LoginRequest{Email: email, Password: goodPassword})
	require.NoError(t, err)
	return res
}
