package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rfinnell/demovault/internal/config"
)

type fakeProbe struct {
	validateResult bool
	validateErr    error
	validateCalls  int

	loginCookies []Cookie
	loginErr     error
	loginCalls   int
}

func (f *fakeProbe) Validate(ctx context.Context, cookies []Cookie) (bool, error) {
	f.validateCalls++
	return f.validateResult, f.validateErr
}

func (f *fakeProbe) InteractiveLogin(ctx context.Context) ([]Cookie, error) {
	f.loginCalls++
	return f.loginCookies, f.loginErr
}

func freshCookies(t *testing.T) []Cookie {
	t.Helper()
	return []Cookie{{
		Name:    AuthCookieName,
		Value:   "token",
		Domain:  "steamcommunity.com",
		Path:    "/",
		Expires: float64(time.Now().Add(72 * time.Hour).Unix()),
	}}
}

func staleCookies(t *testing.T) []Cookie {
	t.Helper()
	return []Cookie{{
		Name:    AuthCookieName,
		Value:   "token",
		Domain:  "steamcommunity.com",
		Path:    "/",
		Expires: float64(time.Now().Add(6 * time.Hour).Unix()),
	}}
}

func newTestManager(t *testing.T, stored []Cookie, probe Probe) (*Manager, *Store) {
	t.Helper()
	store := NewStore(filepath.Join(t.TempDir(), "cookies.json"), zap.NewNop())
	if stored != nil {
		require.NoError(t, store.Save(stored))
	}
	cfg := config.SessionConfig{
		FreshnessWindow: 24 * time.Hour,
		ValidateTimeout: 5 * time.Second,
		LoginTimeout:    time.Minute,
	}
	return NewManager(store, probe, cfg, zap.NewNop()), store
}

func TestEnsureSession_ValidStoredSession(t *testing.T) {
	probe := &fakeProbe{validateResult: true}
	m, _ := newTestManager(t, freshCookies(t), probe)

	cookies, err := m.EnsureSession(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, cookies)
	assert.Equal(t, 1, probe.validateCalls)
	assert.Zero(t, probe.loginCalls, "valid stored session must not trigger login")
}

func TestEnsureSession_NoStoredSessionTriggersLogin(t *testing.T) {
	probe := &fakeProbe{loginCookies: freshCookies(t)}
	m, store := newTestManager(t, nil, probe)

	cookies, err := m.EnsureSession(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, cookies)
	assert.Zero(t, probe.validateCalls, "nothing to validate without stored cookies")
	assert.Equal(t, 1, probe.loginCalls)
	assert.NotNil(t, store.Load(), "new session must be persisted")
}

func TestEnsureSession_StaleExpiryTriggersLoginWithoutValidation(t *testing.T) {
	probe := &fakeProbe{validateResult: true, loginCookies: freshCookies(t)}
	m, _ := newTestManager(t, staleCookies(t), probe)

	_, err := m.EnsureSession(context.Background())
	require.NoError(t, err)
	assert.Zero(t, probe.validateCalls, "an expiring cookie set must not even be validated")
	assert.Equal(t, 1, probe.loginCalls)
}

func TestEnsureSession_FailedValidationTriggersLogin(t *testing.T) {
	probe := &fakeProbe{validateResult: false, loginCookies: freshCookies(t)}
	m, _ := newTestManager(t, freshCookies(t), probe)

	_, err := m.EnsureSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, probe.validateCalls)
	assert.Equal(t, 1, probe.loginCalls)
}

func TestEnsureSession_ValidationErrorFallsBackToLogin(t *testing.T) {
	probe := &fakeProbe{validateErr: errors.New("browser crashed"), loginCookies: freshCookies(t)}
	m, _ := newTestManager(t, freshCookies(t), probe)

	_, err := m.EnsureSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, probe.loginCalls)
}

func TestEnsureSession_LoginFailureIsAuthenticationError(t *testing.T) {
	probe := &fakeProbe{loginErr: errors.New("user never logged in")}
	m, _ := newTestManager(t, nil, probe)

	_, err := m.EnsureSession(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestEnsureSession_EmptyLoginResultIsAuthenticationError(t *testing.T) {
	probe := &fakeProbe{loginCookies: nil}
	m, _ := newTestManager(t, nil, probe)

	_, err := m.EnsureSession(context.Background())
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestUsable(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	window := 24 * time.Hour

	tests := []struct {
		name    string
		cookies []Cookie
		want    bool
	}{
		{
			name:    "empty set",
			cookies: nil,
			want:    false,
		},
		{
			name:    "no auth cookie",
			cookies: []Cookie{{Name: "sessionid", Expires: float64(now.Add(100 * time.Hour).Unix())}},
			want:    false,
		},
		{
			name:    "auth cookie without expiry",
			cookies: []Cookie{{Name: AuthCookieName}},
			want:    true,
		},
		{
			name:    "auth cookie expiring beyond window",
			cookies: []Cookie{{Name: AuthCookieName, Expires: float64(now.Add(48 * time.Hour).Unix())}},
			want:    true,
		},
		{
			name:    "auth cookie expiring inside window",
			cookies: []Cookie{{Name: AuthCookieName, Expires: float64(now.Add(12 * time.Hour).Unix())}},
			want:    false,
		},
		{
			name:    "auth cookie already expired",
			cookies: []Cookie{{Name: AuthCookieName, Expires: float64(now.Add(-time.Hour).Unix())}},
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Usable(tt.cookies, window, now))
		})
	}
}

func TestCookieConversion_RoundTrip(t *testing.T) {
	in := freshCookies(t)
	params := ToParams(in)
	require.Len(t, params, 1)
	assert.Equal(t, AuthCookieName, params[0].Name)
	require.NotNil(t, params[0].Expires)

	sessionOnly := ToParams([]Cookie{{Name: "sessionid"}})
	require.Len(t, sessionOnly, 1)
	assert.Nil(t, sessionOnly[0].Expires, "session cookies carry no expiry")
}
