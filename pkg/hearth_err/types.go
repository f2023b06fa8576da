// pkg/hearth_err/types.go

package hearth_err

import (
	"errors"
	"fmt"
)

// UserError marks an error as expected and recoverable by the user, e.g. an
// unknown service name on the command line.
type UserError struct {
	cause error
}

func (e *UserError) Error() string {
	return e.cause.Error()
}

func (e *UserError) Unwrap() error {
	return e.cause
}

// NewUserError formats a new expected error.
func NewUserError(format string, args ...any) error {
	return &UserError{cause: fmt.Errorf(format, args...)}
}

// NewExpectedError wraps an error for softer UX handling.
func NewExpectedError(err error) error {
	if err == nil {
		return nil
	}
	return &UserError{cause: err}
}

// IsExpectedUserError checks if the error is marked as expected.
func IsExpectedUserError(err error) bool {
	var e *UserError
	return errors.As(err, &e)
}
