package authpublic

import (
	"errors"
	"fmt"
	"net/http"
)

// StatusError is an authentication failure carrying an HTTP-style status
// classification. A 401 classification is the generic signal that persisted
// session state is no longer valid; the Authenticator clears the session
// when it sees one.
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("authentication failed (status %d): %v", e.Code, e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// NewStatusError wraps err with a status classification.
func NewStatusError(code int, err error) *StatusError {
	return &StatusError{Code: code, Err: err}
}

// ErrSessionInvalid is the canonical unauthorized failure for stored session
// state that no longer verifies.
func ErrSessionInvalid() *StatusError {
	return &StatusError{Code: http.StatusUnauthorized, Err: errors.New("session state is no longer valid")}
}

// ErrBadCredentials is the canonical unauthorized failure for an explicit
// login with wrong credentials. The message is deliberately uniform so it
// does not reveal whether the username exists.
func ErrBadCredentials() *StatusError {
	return &StatusError{Code: http.StatusUnauthorized, Err: errors.New("wrong username or password")}
}

// IsUnauthorized reports whether err carries a 401 status classification.
func IsUnauthorized(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusUnauthorized
}
