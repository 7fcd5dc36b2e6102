package auth_test

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-client/apiclient"
	"github.com/jrsteele09/go-auth-client/auth"
	"github.com/jrsteele09/go-auth-client/identity"
	"github.com/jrsteele09/go-auth-client/internal/authtest"
	"github.com/jrsteele09/go-auth-client/notify"
	"github.com/jrsteele09/go-auth-client/sessions"
	"github.com/jrsteele09/go-auth-client/token"
	"github.com/jrsteele09/go-auth-client/token/refresh"
	"github.com/jrsteele09/go-auth-client/token/refresh/refreshtest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var creds = auth.Credentials{Email: "a@b.com", Password: "secret1"}

type fixture struct {
	clock   *refreshtest.FakeClock
	backend *authtest.Backend
	store   *sessions.MemoryStore
	client  *apiclient.Client
	svc     *auth.Service
	notices *notify.Recorder
	hooks   atomic.Int32

	mu          sync.Mutex
	navigations []string
}

func newFixture(t *testing.T, opts ...auth.ServiceOption) *fixture {
	t.Helper()
	f := &fixture{
		clock:   refreshtest.NewFakeClock(time.Now().Truncate(time.Second)),
		store:   sessions.NewMemoryStore(),
		notices: &notify.Recorder{},
	}
	f.backend = authtest.NewBackend(t, authtest.WithNow(f.clock.Now))
	f.backend.AddUser(t, creds.Email, creds.Password, "Jane Doe", "admin")

	f.client = apiclient.New(f.backend.URL+"/api/v1", f.store,
		apiclient.WithNotifier(f.notices),
		apiclient.WithLogger(zerolog.Nop()),
	)
	opts = append([]auth.ServiceOption{
		auth.WithNotifier(f.notices),
		auth.WithLogger(zerolog.Nop()),
		auth.WithNavigator(func(path string) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.navigations = append(f.navigations, path)
		}),
		auth.WithRefreshOptions(refresh.WithClock(f.clock), refresh.WithLogger(zerolog.Nop())),
	}, opts...)
	f.svc = auth.NewService(f.store, f.client, opts...)
	f.svc.OnLogout(func(context.Context) { f.hooks.Add(1) })
	t.Cleanup(f.svc.Coordinator().Cancel)
	return f
}

func (f *fixture) navigated() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.navigations...)
}

func requireLoggedOut(t *testing.T, store *sessions.MemoryStore) {
	t.Helper()
	for _, key := range sessions.AllKeys {
		_, ok, err := store.Lookup(context.Background(), key)
		require.NoError(t, err)
		require.False(t, ok, "key %q still stored", key)
	}
}

func TestService_Login(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.False(t, f.svc.IsAuthenticated(ctx))

	s, err := f.svc.Login(ctx, creds)
	require.NoError(t, err)
	require.True(t, f.svc.IsAuthenticated(ctx))
	require.Equal(t, "bearer", s.TokenType)

	claims, ok := token.Decode(s.AccessToken)
	require.True(t, ok)
	stored, ok, err := f.store.Lookup(ctx, sessions.KeyTokenExpiry)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, strconv.FormatInt(*claims.ExpiresAt, 10), stored)

	user, err := f.svc.CurrentUser(ctx)
	require.NoError(t, err)
	require.Equal(t, "Jane Doe", user.Name)
	require.Equal(t, "a@b.com", user.Username)
	require.Equal(t, []string{"admin"}, user.Roles)

	require.Equal(t, refresh.Scheduled, f.svc.Coordinator().State())
	wakeAt, _ := f.svc.Coordinator().WakeAt()
	require.Equal(t, *claims.ExpiresAt-300, wakeAt.Unix())
	require.Empty(t, f.navigated())
}

func TestService_LoginValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Login(context.Background(), auth.Credentials{Email: "not-an-email", Password: "secret1"})
	require.ErrorIs(t, err, auth.ErrValidation)
	require.EqualValues(t, 0, f.backend.LoginCalls.Load())
}

func TestService_LoginRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Login(ctx, auth.Credentials{Email: creds.Email, Password: "wrong-password"})
	require.ErrorIs(t, err, auth.ErrAuthRejected)

	var apiErr *apiclient.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusUnauthorized, apiErr.Status)
	require.Equal(t, "Incorrect username or password", apiErr.Message)

	require.False(t, f.svc.IsAuthenticated(ctx))
	require.Equal(t, refresh.Idle, f.svc.Coordinator().State())
	require.Empty(t, f.navigated())
}

func TestService_ProactiveRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.svc.Login(ctx, creds)
	require.NoError(t, err)

	f.clock.Advance(55 * time.Minute)

	require.EqualValues(t, 1, f.backend.RefreshCalls.Load())
	s, err := f.svc.Session(ctx)
	require.NoError(t, err)
	require.NotEqual(t, first.AccessToken, s.AccessToken)
	require.False(t, f.backend.RefreshTokenValid(first.RefreshToken))
	require.True(t, f.backend.RefreshTokenValid(s.RefreshToken))
	require.Equal(t, refresh.Scheduled, f.svc.Coordinator().State())
}

func TestService_RefreshRejectedLogsOut(t *testing.T) {
	t.Run("timer", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Login(context.Background(), creds)
		require.NoError(t, err)
		f.backend.SetRefreshStatus(http.StatusUnauthorized)

		f.clock.Advance(55 * time.Minute)

		requireLoggedOut(t, f.store)
		require.Equal(t, []string{auth.LoginPath}, f.navigated())
		require.EqualValues(t, 1, f.hooks.Load())
		require.Equal(t, refresh.Idle, f.svc.Coordinator().State())
	})

	t.Run("unauthorized response", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Login(context.Background(), creds)
		require.NoError(t, err)
		f.backend.ExpireAccessTokens()
		f.backend.SetRefreshStatus(http.StatusUnauthorized)

		err = f.client.GetJSON(context.Background(), apiclient.RouteUsers, nil)
		require.ErrorIs(t, err, apiclient.ErrSessionExpired)

		requireLoggedOut(t, f.store)
		require.Equal(t, []string{auth.LoginPath}, f.navigated())
		require.Equal(t, []string{"Session Expired"}, f.notices.Titles())
	})

	t.Run("no refresh token", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		require.NoError(t, f.store.Save(ctx, token.Tokens{AccessToken: "opaque", TokenType: "bearer"}, nil))

		_, err := f.svc.Coordinator().Refresh(ctx, refresh.TriggerManual)
		require.ErrorIs(t, err, refresh.ErrRefreshUnavailable)
		requireLoggedOut(t, f.store)
		require.EqualValues(t, 0, f.backend.RefreshCalls.Load())
	})
}

func TestService_LogoutDuringRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Login(ctx, creds)
	require.NoError(t, err)

	release := f.backend.HoldRefresh()
	defer release()

	result := make(chan error, 1)
	go func() {
		_, err := f.svc.Coordinator().Refresh(ctx, refresh.TriggerManual)
		result <- err
	}()
	require.Eventually(t, func() bool { return f.backend.RefreshCalls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, f.svc.Logout(ctx))
	release()

	require.ErrorIs(t, <-result, refresh.ErrSessionEnded)
	require.False(t, f.svc.IsAuthenticated(ctx))
	requireLoggedOut(t, f.store)
	require.Equal(t, refresh.Idle, f.svc.Coordinator().State())
	require.Equal(t, []string{auth.LoginPath}, f.navigated())
}

func TestService_SlowRefreshKeepsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Login(ctx, creds)
	require.NoError(t, err)
	f.backend.ExpireAccessTokens()

	release := f.backend.HoldRefresh()
	defer release()
	refreshed := make(chan error, 1)
	go func() {
		_, err := f.svc.Coordinator().Refresh(ctx, refresh.TriggerTimer)
		refreshed <- err
	}()
	require.Eventually(t, func() bool { return f.backend.RefreshCalls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	listed := make(chan error, 1)
	go func() {
		listed <- f.client.GetJSON(ctx, apiclient.RouteUsers, nil)
	}()

	// The refresh takes well over a second; the rejected request keeps waiting.
	time.Sleep(1200 * time.Millisecond)
	require.True(t, f.svc.IsAuthenticated(ctx))
	require.Empty(t, f.navigated())
	release()

	require.NoError(t, <-refreshed)
	require.NoError(t, <-listed)
	require.True(t, f.svc.IsAuthenticated(ctx))
	require.Empty(t, f.navigated())
	require.Empty(t, f.notices.Titles())
	require.EqualValues(t, 0, f.hooks.Load())
	require.EqualValues(t, 1, f.backend.RefreshCalls.Load())
	require.Equal(t, refresh.Scheduled, f.svc.Coordinator().State())
}

func newSSOFixture(t *testing.T) (*fixture, *authtest.Issuer, *identity.OIDCProvider) {
	t.Helper()
	iss := authtest.NewIssuer(t, "Jane Doe", "jane@example.com")
	provider := identity.NewOIDCProvider(iss.URL, authtest.IssuerClientID,
		identity.WithOpenURL(iss.Browser()),
		identity.WithLoginTimeout(5*time.Second),
		identity.WithLogger(zerolog.Nop()),
	)
	return newFixture(t, auth.WithIdentityProvider(provider)), iss, provider
}

func TestService_SSOLogin(t *testing.T) {
	f, _, provider := newSSOFixture(t)
	ctx := context.Background()

	s, err := f.svc.SSOLogin(ctx)
	require.NoError(t, err)
	require.True(t, f.svc.IsAuthenticated(ctx))
	require.True(t, provider.HasActiveAccount())
	require.Equal(t, "Jane Doe", s.User.Name)
	require.Equal(t, "jane@example.com", s.User.Username)

	req := f.backend.LastSSORequest()
	require.NotNil(t, req)
	require.NotEmpty(t, req.IDToken)
	require.Equal(t, "Jane Doe", req.Contact.Name)
	require.Equal(t, "jane@example.com", req.Contact.Username)
	require.Equal(t, refresh.Scheduled, f.svc.Coordinator().State())
}

func TestService_SSOLoginCancelled(t *testing.T) {
	f, iss, _ := newSSOFixture(t)
	iss.SetDecision(authtest.Deny)
	ctx := context.Background()

	_, err := f.svc.SSOLogin(ctx)
	require.ErrorIs(t, err, auth.ErrLoginCancelled)
	require.False(t, errors.Is(err, auth.ErrSSOFailed))

	require.False(t, f.svc.IsAuthenticated(ctx))
	require.Equal(t, []notify.Notice{notify.Info("Login cancelled", "The login popup was closed.")}, f.notices.Notices())
	require.Empty(t, f.navigated())
	require.EqualValues(t, 0, f.hooks.Load())
	require.EqualValues(t, 0, f.backend.SSOCalls.Load())
}

func TestService_SSOLoginRejected(t *testing.T) {
	f, _, _ := newSSOFixture(t)
	f.backend.RejectSSO("Tenant not allowed")

	_, err := f.svc.SSOLogin(context.Background())
	require.ErrorIs(t, err, auth.ErrSSOFailed)
	require.ErrorIs(t, err, auth.ErrAuthRejected)
	require.Equal(t, "SSO login failed. Please try again.", auth.ErrSSOFailed.Error())
	require.False(t, f.svc.IsAuthenticated(context.Background()))
}

func TestService_SSOLoginWithoutProvider(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SSOLogin(context.Background())
	require.ErrorIs(t, err, auth.ErrNoIdentityProvider)
}

func TestService_LogoutSignsOutOfProvider(t *testing.T) {
	f, iss, provider := newSSOFixture(t)
	ctx := context.Background()
	_, err := f.svc.SSOLogin(ctx)
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx))
	requireLoggedOut(t, f.store)
	require.False(t, provider.HasActiveAccount())
	require.Eventually(t, func() bool { return iss.EndSessionCalls.Load() == 1 }, time.Second, 10*time.Millisecond)
	require.Equal(t, []string{auth.LoginPath}, f.navigated())
	require.EqualValues(t, 1, f.hooks.Load())
}

type failingProvider struct{}

func (failingProvider) Login(context.Context) (*identity.Result, error) {
	return nil, errors.New("popup blocked")
}

func (failingProvider) Logout(context.Context) error { return errors.New("logout popup blocked") }

func (failingProvider) HasActiveAccount() bool { return true }

func TestService_ProviderFailures(t *testing.T) {
	f := newFixture(t, auth.WithIdentityProvider(failingProvider{}))
	ctx := context.Background()

	t.Run("login failure is generic", func(t *testing.T) {
		_, err := f.svc.SSOLogin(ctx)
		require.ErrorIs(t, err, auth.ErrSSOFailed)
		require.Empty(t, f.notices.Notices())
	})

	t.Run("logout failure is not propagated", func(t *testing.T) {
		_, err := f.svc.Login(ctx, creds)
		require.NoError(t, err)

		require.NoError(t, f.svc.Logout(ctx))
		requireLoggedOut(t, f.store)
		require.Equal(t, []string{auth.LoginPath}, f.navigated())
	})
}

func TestService_Guard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	redirect, ok := f.svc.Guard(ctx, "/users")
	require.False(t, ok)
	require.Equal(t, auth.LoginPath, redirect)

	_, ok = f.svc.Guard(ctx, auth.LoginPath)
	require.True(t, ok)

	_, err := f.svc.Login(ctx, creds)
	require.NoError(t, err)

	redirect, ok = f.svc.Guard(ctx, auth.LoginPath)
	require.False(t, ok)
	require.Equal(t, auth.HomePath, redirect)

	_, ok = f.svc.Guard(ctx, "/users")
	require.True(t, ok)
}

func TestService_CurrentUserRequiresSession(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CurrentUser(context.Background())
	require.ErrorIs(t, err, auth.ErrNotAuthenticated)
}

func TestService_Resume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	exp := f.clock.Now().Add(time.Hour).Unix()
	tokens := token.Tokens{AccessToken: refreshtest.TokenExpiringAt(exp, "stored"), RefreshToken: "r1", TokenType: "bearer"}
	claims, _ := token.Decode(tokens.AccessToken)
	require.NoError(t, f.store.Save(ctx, tokens, claims))

	require.NoError(t, f.svc.Resume(ctx))
	wakeAt, ok := f.svc.Coordinator().WakeAt()
	require.True(t, ok)
	require.Equal(t, exp-300, wakeAt.Unix())
}
