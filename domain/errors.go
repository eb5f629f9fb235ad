package domain

import "errors"

var (
	// ErrNotFound indicates the task id is unknown to the board or server.
	ErrNotFound = errors.New("task not found")
	// ErrTransitionConflict indicates that the server rejected an update.
	ErrTransitionConflict = errors.New("update rejected by server")
	// ErrNetworkFailure indicates that a request could not complete.
	ErrNetworkFailure = errors.New("network failure")
	// ErrAuthExpired indicates that the session is no longer valid and the
	// user has to sign in again.
	ErrAuthExpired = errors.New("session expired")
	// ErrEmailTaken is returned when registering an address twice.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidCredentials is returned for unknown users and wrong passwords.
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// ValidationError reports a field that fails local constraints.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
