package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jrsteele09/go-auth-client/apiclient"
	"github.com/jrsteele09/go-auth-client/identity"
	"github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/token"
	"golang.org/x/oauth2"
)

// API makes the backend's auth calls.
type API struct {
	client *apiclient.Client
}

func NewAPI(client *apiclient.Client) *API {
	return &API{client: client}
}

type ssoContact struct {
	Name     string `json:"name"`
	Username string `json:"username"`
}

type ssoExchangeRequest struct {
	IDToken string     `json:"id_token"`
	Contact ssoContact `json:"contact"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// PasswordLogin runs the password grant against the token endpoint. A 401 or
// 403 is returned as an *apiclient.APIError wrapping ErrAuthRejected.
func (a *API) PasswordLogin(ctx context.Context, creds Credentials) (token.Tokens, error) {
	config := &oauth2.Config{
		Endpoint: oauth2.Endpoint{
			TokenURL:  a.client.URL(apiclient.RouteLogin),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.client.HTTPClient())

	tok, err := config.PasswordCredentialsToken(ctx, creds.Email, creds.Password)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			return token.Tokens{}, rejection(retrieveErr.Response.StatusCode,
				apiclient.BackendMessage(retrieveErr.Body, http.StatusText(retrieveErr.Response.StatusCode)))
		}
		return token.Tokens{}, fmt.Errorf("[API PasswordLogin] %w", err)
	}

	return token.TokenResponse{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
	}.Tokens()
}

// ExchangeSSO trades a provider ID token for a backend token pair.
func (a *API) ExchangeSSO(ctx context.Context, res *identity.Result) (token.Tokens, error) {
	req := ssoExchangeRequest{
		IDToken: res.IDToken,
		Contact: ssoContact{Name: res.Account.Name, Username: res.Account.Username},
	}
	var resp token.TokenResponse
	if err := a.client.PostJSON(ctx, apiclient.RouteSSOExchange, req, &resp); err != nil {
		var apiErr *apiclient.APIError
		if errors.As(err, &apiErr) {
			return token.Tokens{}, rejection(apiErr.Status, apiErr.Message)
		}
		return token.Tokens{}, fmt.Errorf("[API ExchangeSSO] %w", err)
	}
	return resp.Tokens()
}

// Refresh exchanges a refresh token for a new pair. A 401 wraps
// ErrRefreshRejected.
func (a *API) Refresh(ctx context.Context, refreshToken string) (token.Tokens, error) {
	var resp token.TokenResponse
	if err := a.client.PostJSON(ctx, apiclient.RouteRefresh, refreshRequest{RefreshToken: refreshToken}, &resp); err != nil {
		return token.Tokens{}, fmt.Errorf("[API Refresh] %w", err)
	}
	return resp.Tokens()
}

// rejection classifies a failed auth call; only 401 and 403 are rejections.
func rejection(status int, message string) error {
	apiErr := &apiclient.APIError{Status: status, Message: message}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		apiErr.Err = ErrAuthRejected
	}
	return apiErr
}
