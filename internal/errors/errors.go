package errors

import (
	"errors"
	"fmt"
)

// Common error kinds shared by the session packages.
var (
	// Credential errors
	ErrValidation   = errors.New("invalid credentials")
	ErrAuthRejected = errors.New("authentication rejected")

	// Renewal errors
	ErrRefreshInProgress  = errors.New("refresh already in progress")
	ErrRefreshUnavailable = errors.New("no refresh token available")
	ErrRefreshRejected    = errors.New("refresh token rejected")
	ErrSessionEnded       = errors.New("session ended during refresh")

	// Identity provider errors
	ErrLoginCancelled = errors.New("login cancelled")

	// Session errors
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrSessionExpired   = errors.New("session expired")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// New is errors.New, re-exported so callers need a single errors import.
func New(text string) error {
	return errors.New(text)
}
