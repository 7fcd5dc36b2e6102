package sessions

import (
	"context"
	"errors"

	"github.com/jrsteele09/go-auth-client/token"
)

var ErrEmptyAccessToken = errors.New("access token is required")

// Store persists the current session's credentials.
type Store interface {
	// Save writes the token pair and the values derived from claims as one
	// unit. claims may be nil when the access token could not be decoded.
	Save(ctx context.Context, tokens token.Tokens, claims *token.Claims) error

	// Load reads the stored session. It has no side effects.
	Load(ctx context.Context) (*Session, error)

	// Clear removes every key the store owns.
	Clear(ctx context.Context) error
}

// IsAuthenticated is a pure read of whether an access token is stored. Load
// errors count as not authenticated.
func IsAuthenticated(ctx context.Context, store Store) bool {
	s, err := store.Load(ctx)
	if err != nil {
		return false
	}
	return s.IsAuthenticated()
}
