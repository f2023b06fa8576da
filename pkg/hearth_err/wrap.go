// pkg/hearth_err/wrap.go

package hearth_err

import (
	cerr "github.com/cockroachdb/errors"
)

// WithRerunHint attaches the command that safely resumes the run.
func WithRerunHint(err error, rerun string) error {
	if err == nil {
		return nil
	}
	return cerr.WithHint(cerr.WithStack(err), "re-running is safe: "+rerun)
}

// WrapValidationError marks a configuration/flag validation failure as a user error.
func WrapValidationError(err error) error {
	if err == nil {
		return nil
	}
	return NewExpectedError(cerr.WithHint(cerr.WithStack(err), "validation failed"))
}

// Hints returns every hint attached to the error chain.
func Hints(err error) []string {
	return cerr.GetAllHints(err)
}
