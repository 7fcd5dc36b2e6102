package identity

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/internal/logging"
	"github.com/jrsteele09/go-auth-client/internal/utils"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

const callbackPath = "/callback"

var _ Provider = (*OIDCProvider)(nil)

type Option func(*OIDCProvider)

func WithScopes(scopes ...string) Option {
	return func(p *OIDCProvider) {
		if len(scopes) > 0 {
			p.scopes = scopes
		}
	}
}

// WithRedirectAddr sets the loopback host:port the callback listener binds.
func WithRedirectAddr(addr string) Option {
	return func(p *OIDCProvider) { p.redirectAddr = addr }
}

func WithLoginTimeout(d time.Duration) Option {
	return func(p *OIDCProvider) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithOpenURL replaces the function that shows the provider's pages to the
// user. The default launches the system browser.
func WithOpenURL(open func(string) error) Option {
	return func(p *OIDCProvider) { p.openURL = open }
}

func WithHTTPClient(client *http.Client) Option {
	return func(p *OIDCProvider) { p.httpClient = client }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(p *OIDCProvider) { p.logger = logger }
}

// OIDCProvider signs the user in with an OpenID Connect provider using the
// authorization code flow with PKCE and a loopback redirect.
type OIDCProvider struct {
	issuer       string
	clientID     string
	scopes       []string
	redirectAddr string
	timeout      time.Duration
	openURL      func(string) error
	httpClient   *http.Client
	logger       zerolog.Logger
	flows        *flowRepo

	mu       sync.Mutex
	provider *oidc.Provider
	account  *Account
	idToken  string
}

func NewOIDCProvider(issuer, clientID string, opts ...Option) *OIDCProvider {
	p := &OIDCProvider{
		issuer:       issuer,
		clientID:     clientID,
		scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		redirectAddr: "127.0.0.1:0",
		timeout:      2 * time.Minute,
		openURL:      openBrowser,
		logger:       logging.Component("identity"),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.flows = newFlowRepo(p.timeout)
	return p
}

func (p *OIDCProvider) withClient(ctx context.Context) context.Context {
	if p.httpClient == nil {
		return ctx
	}
	return oidc.ClientContext(ctx, p.httpClient)
}

func (p *OIDCProvider) discover(ctx context.Context) (*oidc.Provider, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.provider != nil {
		return p.provider, nil
	}
	if multiTenant(p.issuer) {
		return nil, fmt.Errorf("%w: %s", ErrMultiTenantAuthority, p.issuer)
	}
	provider, err := oidc.NewProvider(p.withClient(ctx), p.issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}
	p.provider = provider
	return provider, nil
}

var multiTenantSegments = map[string]bool{"common": true, "organizations": true, "consumers": true}

func multiTenant(issuer string) bool {
	u, err := url.Parse(issuer)
	if err != nil {
		return false
	}
	for _, segment := range strings.Split(u.Path, "/") {
		if multiTenantSegments[strings.ToLower(segment)] {
			return true
		}
	}
	return false
}

type callback struct {
	state string
	code  string
	err   error
}

// Login runs the interactive login and returns the verified ID token with the
// account it names. Closing the window, denying consent, the login timeout and
// ctx cancellation all return ErrLoginCancelled.
func (p *OIDCProvider) Login(ctx context.Context) (*Result, error) {
	ctx, cancel := context.WithTimeout(p.withClient(ctx), p.timeout)
	defer cancel()

	provider, err := p.discover(ctx)
	if err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp", p.redirectAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for login callback: %w", err)
	}
	redirectURL := "http://" + ln.Addr().String() + callbackPath

	config := &oauth2.Config{
		ClientID:    p.clientID,
		Endpoint:    provider.Endpoint(),
		RedirectURL: redirectURL,
		Scopes:      p.scopes,
	}
	config.Endpoint.AuthStyle = oauth2.AuthStyleInParams

	state := uuid.NewString()
	flow := &flowState{
		CodeVerifier: oauth2.GenerateVerifier(),
		Nonce:        uuid.NewString(),
		RedirectURL:  redirectURL,
		CreatedAt:    time.Now(),
	}
	if err := p.flows.Upsert(state, flow); err != nil {
		_ = ln.Close()
		return nil, err
	}
	defer p.flows.Delete(state)

	callbacks := make(chan callback, 1)
	srv := &http.Server{Handler: callbackHandler(callbacks), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			p.logger.Err(err).Msg("login callback listener stopped")
		}
	}()
	defer srv.Close()

	authURL := config.AuthCodeURL(state, oidc.Nonce(flow.Nonce), oauth2.S256ChallengeOption(flow.CodeVerifier))
	if err := p.openURL(authURL); err != nil {
		return nil, fmt.Errorf("failed to open login page: %w", err)
	}
	p.logger.Debug().Str("redirect_url", redirectURL).Msg("waiting for login callback")

	var cb callback
	select {
	case cb = <-callbacks:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrLoginCancelled, ctx.Err())
	}
	if cb.err != nil {
		return nil, cb.err
	}

	pending, err := p.flows.Take(cb.state)
	if err != nil {
		return nil, fmt.Errorf("invalid state parameter: %w", err)
	}

	token, err := config.Exchange(ctx, cb.code, oauth2.VerifierOption(pending.CodeVerifier))
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, errors.New("no ID token in response")
	}

	idToken, err := provider.Verifier(&oidc.Config{ClientID: p.clientID}).Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("ID token verification failed: %w", err)
	}

	var claims struct {
		Nonce             string `json:"nonce"`
		Name              string `json:"name"`
		PreferredUsername string `json:"preferred_username"`
		Email             string `json:"email"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to extract claims: %w", err)
	}
	if claims.Nonce != pending.Nonce {
		return nil, errors.New("invalid nonce")
	}

	account := Account{
		Name:     utils.FirstNonEmpty(claims.Name, DefaultName),
		Username: utils.FirstNonEmpty(claims.PreferredUsername, claims.Email, DefaultUsername),
	}

	p.mu.Lock()
	p.account = &account
	p.idToken = rawIDToken
	p.mu.Unlock()

	p.logger.Info().Str("username", account.Username).Msg("identity provider login completed")
	return &Result{IDToken: rawIDToken, AccessToken: token.AccessToken, Account: account}, nil
}

// callbackHandler receives the provider's redirect. Only the first callback is
// delivered.
func callbackHandler(out chan<- callback) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+callbackPath, func(w http.ResponseWriter, r *http.Request) {
		cb := callback{state: r.FormValue("state"), code: r.FormValue("code")}

		switch errorParam := r.FormValue("error"); {
		case errorParam == "access_denied":
			cb.err = fmt.Errorf("%w: %s", ErrLoginCancelled, r.FormValue("error_description"))
		case errorParam != "":
			cb.err = fmt.Errorf("authorization failed: %s - %s", errorParam, r.FormValue("error_description"))
		case cb.code == "" || cb.state == "":
			cb.err = errors.New("missing code or state parameter")
		}

		select {
		case out <- cb:
		default:
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if cb.err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = fmt.Fprintln(w, "Login was not completed. You can close this window.")
			return
		}
		_, _ = fmt.Fprintln(w, "Login complete. You can close this window.")
	})
	return mux
}

// Logout forgets the signed-in account and opens the provider's end session
// page when it advertises one.
func (p *OIDCProvider) Logout(ctx context.Context) error {
	p.mu.Lock()
	idToken := p.idToken
	p.account = nil
	p.idToken = ""
	p.mu.Unlock()

	provider, err := p.discover(ctx)
	if err != nil {
		return err
	}

	var meta struct {
		EndSessionEndpoint string `json:"end_session_endpoint"`
	}
	if err := provider.Claims(&meta); err != nil {
		return fmt.Errorf("failed to read provider metadata: %w", err)
	}
	if meta.EndSessionEndpoint == "" {
		return nil
	}

	endSession, err := url.Parse(meta.EndSessionEndpoint)
	if err != nil {
		return fmt.Errorf("invalid end_session_endpoint: %w", err)
	}
	q := endSession.Query()
	q.Set("client_id", p.clientID)
	if idToken != "" {
		q.Set("id_token_hint", idToken)
	}
	endSession.RawQuery = q.Encode()

	if err := p.openURL(endSession.String()); err != nil {
		return fmt.Errorf("failed to open logout page: %w", err)
	}
	return nil
}

func (p *OIDCProvider) HasActiveAccount() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.account != nil
}

func openBrowser(u string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", u)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", u)
	default:
		cmd = exec.Command("xdg-open", u)
	}
	return cmd.Start()
}
