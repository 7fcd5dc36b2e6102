package auth

import "github.com/jrsteele09/go-auth-client/internal/errors"

var (
	ErrValidation       = errors.ErrValidation
	ErrAuthRejected     = errors.ErrAuthRejected
	ErrLoginCancelled   = errors.ErrLoginCancelled
	ErrRefreshRejected  = errors.ErrRefreshRejected
	ErrNotAuthenticated = errors.ErrNotAuthenticated

	// ErrSSOFailed wraps every SSO failure other than a cancelled login.
	ErrSSOFailed = errors.New("SSO login failed. Please try again.")

	// ErrNoIdentityProvider is returned by SSOLogin when none is configured.
	ErrNoIdentityProvider = errors.New("no identity provider configured")
)
