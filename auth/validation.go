package auth

import (
	"fmt"
	"net/mail"
	"strings"
)

// MinPasswordLength is the shortest password the login form accepts.
const MinPasswordLength = 4

// Credentials submitted to the password login.
type Credentials struct {
	Email    string
	Password string
}

// Validator checks login input before anything is sent to the backend.
type Validator struct{}

func NewValidator() *Validator {
	return &Validator{}
}

// ValidateCredentials returns an error wrapping ErrValidation when the email
// is missing or malformed or the password is too short.
func (v *Validator) ValidateCredentials(c Credentials) error {
	email := strings.TrimSpace(c.Email)
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrValidation)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@"):], ".") {
		return fmt.Errorf("%w: invalid email", ErrValidation)
	}

	if c.Password == "" {
		return fmt.Errorf("%w: password is required", ErrValidation)
	}
	if len([]rune(c.Password)) < MinPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrValidation, MinPasswordLength)
	}
	return nil
}
