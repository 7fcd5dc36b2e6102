package identity

import (
	"context"

	"github.com/jrsteele09/go-auth-client/internal/errors"
)

// ErrLoginCancelled is returned when the user abandons the provider login:
// closing the window, denying consent or letting it time out.
var ErrLoginCancelled = errors.ErrLoginCancelled

// ErrMultiTenantAuthority is returned for the Microsoft "common",
// "organizations" and "consumers" authorities. Their discovery documents
// advertise a templated issuer that no ID token carries.
var ErrMultiTenantAuthority = errors.New("multi-tenant authority cannot verify ID tokens, configure a tenant")

const (
	DefaultName     = "Unknown User"
	DefaultUsername = "unknown@user.com"
)

// Account is the signed-in identity as reported by the provider.
type Account struct {
	Name     string
	Username string
}

// Result of an interactive login.
type Result struct {
	IDToken     string
	AccessToken string
	Account     Account
}

// Provider is an external identity provider able to run an interactive login.
type Provider interface {
	Login(ctx context.Context) (*Result, error)
	Logout(ctx context.Context) error
	HasActiveAccount() bool
}
