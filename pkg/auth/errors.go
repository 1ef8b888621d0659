package auth

import (
	"errors"
	"fmt"
)

// ErrAuth marks credential failures that are fatal for the whole run.
var ErrAuth = errors.New("authentication failed")

// AuthError is returned when the credential exchange is rejected or
// a freshly exchanged credential is still refused by the API.
type AuthError struct {
	StatusCode int
	Err        error
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("authentication failed (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

// Unwrap exposes the underlying error.
func (e *AuthError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrAuth) true for every AuthError.
func (e *AuthError) Is(target error) bool {
	return target == ErrAuth
}
