// pkg/hearth_cli/wrap.go

package hearth_cli

import (
	"context"

	"github.com/CodeMonkeyCybersecurity/hearth/pkg/hearth_err"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/hearth_io"
	cerr "github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// CommandFunc is the signature every hearth subcommand implements.
type CommandFunc func(rc *hearth_io.RuntimeContext, cmd *cobra.Command, args []string) error

// Wrap ensures panic recovery, telemetry, logging and signal-driven cancellation.
func Wrap(fn CommandFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		parent := cmd.Context()
		if parent == nil {
			parent = context.Background()
		}

		handler := NewSignalHandler(parent)
		defer handler.Stop()

		rc := hearth_io.NewContext(handler.Context(), cmd.Name())
		defer rc.End(&err)

		defer func() {
			if r := recover(); r != nil {
				err = cerr.AssertionFailedf("panic: %v", r)
				rc.Log.Error("Panic recovered", zap.Any("panic", r))
			}
		}()

		hearth_io.LogRuntimeExecutionContext(rc)

		err = fn(rc, cmd, args)
		if err != nil && !hearth_err.IsExpectedUserError(err) {
			err = cerr.WithStack(err)
		}
		return err
	}
}
