package token

import (
	"errors"
	"fmt"
)

// ErrMalformedResponse is returned when a token endpoint answers 2xx without the
// fields a session needs.
var ErrMalformedResponse = errors.New("malformed token response")

// Tokens is the credential pair a successful login, SSO exchange or refresh yields.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
}

// TokenResponse is the body returned by the backend's /auth/token,
// /auth/azure/sso-exchange/token and /refresh endpoints.
type TokenResponse struct {
	// AccessToken is the bearer token presented on each API request.
	AccessToken string `json:"access_token"`

	// TokenType tells the client how to present the access token ("bearer").
	TokenType string `json:"token_type"`

	// RefreshToken is exchanged at /refresh for a new pair.
	RefreshToken string `json:"refresh_token"`

	// ExpiresIn is a hint only; the exp claim in the access token is what the
	// client schedules renewal from.
	ExpiresIn int `json:"expires_in,omitempty"`
}

// Tokens checks the response carries every field and converts it.
func (r TokenResponse) Tokens() (Tokens, error) {
	switch {
	case r.AccessToken == "":
		return Tokens{}, fmt.Errorf("%w: missing access_token", ErrMalformedResponse)
	case r.TokenType == "":
		return Tokens{}, fmt.Errorf("%w: missing token_type", ErrMalformedResponse)
	case r.RefreshToken == "":
		return Tokens{}, fmt.Errorf("%w: missing refresh_token", ErrMalformedResponse)
	}
	return Tokens{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    r.TokenType,
	}, nil
}
