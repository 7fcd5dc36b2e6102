package auth

import (
	"context"
	"fmt"
	"sync"

	"github.com/jrsteele09/go-auth-client/apiclient"
	"github.com/jrsteele09/go-auth-client/identity"
	"github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/internal/logging"
	"github.com/jrsteele09/go-auth-client/notify"
	"github.com/jrsteele09/go-auth-client/sessions"
	"github.com/jrsteele09/go-auth-client/token/refresh"
	"github.com/rs/zerolog"
)

// Routes the facade navigates between.
const (
	LoginPath = "/auth/login"
	HomePath  = "/"
)

// Navigator moves the user to another route.
type Navigator func(path string)

// LogoutHook runs after the store is cleared, e.g. to drop cached queries.
type LogoutHook func(ctx context.Context)

type ServiceOption func(*Service)

func WithIdentityProvider(p identity.Provider) ServiceOption {
	return func(s *Service) { s.provider = p }
}

func WithNotifier(n notify.Notifier) ServiceOption {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

func WithNavigator(nav Navigator) ServiceOption {
	return func(s *Service) {
		if nav != nil {
			s.navigate = nav
		}
	}
}

func WithLogger(logger zerolog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// WithRefreshOptions configures the refresh coordinator the service creates.
func WithRefreshOptions(opts ...refresh.Option) ServiceOption {
	return func(s *Service) { s.refreshOpts = append(s.refreshOpts, opts...) }
}

// Service is the session facade: login, SSO login, logout and the
// authenticated check, all over one credential store.
type Service struct {
	store       sessions.Store
	api         *API
	coord       *refresh.Coordinator
	provider    identity.Provider
	validator   *Validator
	notifier    notify.Notifier
	navigate    Navigator
	logger      zerolog.Logger
	refreshOpts []refresh.Option

	mu    sync.Mutex
	hooks []LogoutHook
}

// NewService builds the facade and its refresh coordinator, and attaches the
// coordinator to client so 401s renew the session.
func NewService(store sessions.Store, client *apiclient.Client, opts ...ServiceOption) *Service {
	s := &Service{
		store:     store,
		api:       NewAPI(client),
		validator: NewValidator(),
		notifier:  notify.Default(),
		navigate:  func(string) {},
		logger:    logging.Component("auth"),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.coord = refresh.New(store, s.api.Refresh, s.onRefreshFailure, s.refreshOpts...)
	client.Attach(s.coord, func(ctx context.Context) {
		if err := s.Logout(ctx); err != nil {
			s.logger.Err(err).Msg("logout after expired session")
		}
	})
	return s
}

func (s *Service) Coordinator() *refresh.Coordinator {
	return s.coord
}

// OnLogout registers a hook run by every logout.
func (s *Service) OnLogout(hook LogoutHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook)
}

// Login validates the credentials, runs the password grant and establishes the
// session. On any failure the store is left untouched.
func (s *Service) Login(ctx context.Context, creds Credentials) (*sessions.Session, error) {
	if err := s.validator.ValidateCredentials(creds); err != nil {
		return nil, err
	}

	tokens, err := s.api.PasswordLogin(ctx, creds)
	if err != nil {
		s.logger.Warn().Err(err).Str("email", creds.Email).Msg("password login failed")
		return nil, err
	}

	session, err := s.coord.Establish(ctx, tokens)
	if err != nil {
		return nil, fmt.Errorf("[Service Login] %w", err)
	}
	s.logger.Info().Str("email", creds.Email).Msg("logged in")
	return session, nil
}

// SSOLogin signs in with the identity provider and exchanges its ID token with
// the backend. A cancelled provider login shows an info notice and returns
// ErrLoginCancelled; everything else wraps ErrSSOFailed.
func (s *Service) SSOLogin(ctx context.Context) (*sessions.Session, error) {
	if s.provider == nil {
		return nil, ErrNoIdentityProvider
	}

	res, err := s.provider.Login(ctx)
	switch {
	case errors.Is(err, identity.ErrLoginCancelled):
		s.logger.Info().Err(err).Msg("SSO login cancelled")
		s.notifier.Notify(notify.Info("Login cancelled", "The login popup was closed."))
		return nil, ErrLoginCancelled
	case err != nil:
		s.logger.Err(err).Msg("SSO provider login failed")
		return nil, fmt.Errorf("%w: %w", ErrSSOFailed, err)
	case res == nil || res.IDToken == "":
		return nil, fmt.Errorf("%w: provider returned no ID token", ErrSSOFailed)
	}

	tokens, err := s.api.ExchangeSSO(ctx, res)
	if err != nil {
		s.logger.Err(err).Str("username", res.Account.Username).Msg("SSO token exchange failed")
		return nil, fmt.Errorf("%w: %w", ErrSSOFailed, err)
	}

	session, err := s.coord.Establish(ctx, tokens)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSSOFailed, err)
	}
	s.logger.Info().Str("username", res.Account.Username).Msg("logged in with SSO")
	return session, nil
}

// Logout ends the session: the pending timer and any refresh in flight are
// cancelled before the store is cleared, so nothing can re-save it. Provider
// sign-out is best effort.
func (s *Service) Logout(ctx context.Context) error {
	s.coord.Cancel()

	clearErr := s.store.Clear(ctx)
	if clearErr != nil {
		s.logger.Err(clearErr).Msg("failed to clear credential store")
	}

	s.mu.Lock()
	hooks := append([]LogoutHook(nil), s.hooks...)
	s.mu.Unlock()
	for _, hook := range hooks {
		hook(ctx)
	}

	if s.provider != nil && s.provider.HasActiveAccount() {
		if err := s.provider.Logout(ctx); err != nil {
			s.logger.Err(err).Msg("identity provider logout failed")
		}
	}

	s.navigate(LoginPath)
	s.logger.Info().Msg("logged out")
	return clearErr
}

func (s *Service) onRefreshFailure(ctx context.Context, err error) {
	s.logger.Warn().Err(err).Msg("session could not be renewed, logging out")
	if logoutErr := s.Logout(ctx); logoutErr != nil {
		s.logger.Err(logoutErr).Msg("logout after failed refresh")
	}
}

// IsAuthenticated reports whether an access token is stored. Expiry is not
// considered; an expired token is renewed on its next 401.
func (s *Service) IsAuthenticated(ctx context.Context) bool {
	return sessions.IsAuthenticated(ctx, s.store)
}

// Session returns the stored session.
func (s *Service) Session(ctx context.Context) (*sessions.Session, error) {
	return s.store.Load(ctx)
}

// CurrentUser returns the identity derived from the access token. It is nil
// when the token could not be decoded.
func (s *Service) CurrentUser(ctx context.Context) (*sessions.UserInfo, error) {
	session, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if !session.IsAuthenticated() {
		return nil, ErrNotAuthenticated
	}
	return session.User, nil
}

// Resume re-arms proactive refresh for a session left in the store.
func (s *Service) Resume(ctx context.Context) error {
	return s.coord.Resume(ctx)
}

// Guard decides whether path may be shown. When it may not, the route to
// redirect to is returned.
func (s *Service) Guard(ctx context.Context, path string) (string, bool) {
	authenticated := s.IsAuthenticated(ctx)
	switch {
	case !authenticated && path != LoginPath:
		return LoginPath, false
	case authenticated && path == LoginPath:
		return HomePath, false
	}
	return "", true
}
