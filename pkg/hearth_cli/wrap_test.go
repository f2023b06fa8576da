package hearth_cli

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/CodeMonkeyCybersecurity/hearth/pkg/hearth_err"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/hearth_io"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "probe"}
	cmd.SetContext(context.Background())
	return cmd
}

func TestWrapRecoversPanic(t *testing.T) {
	run := Wrap(func(rc *hearth_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		panic("boom")
	})

	err := run(newCmd(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic: boom")
}

func TestWrapPreservesProvisionError(t *testing.T) {
	run := Wrap(func(rc *hearth_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		return hearth_err.NewInsufficientPrivilege(1000)
	})

	err := run(newCmd(), nil)
	require.Error(t, err)
	assert.Equal(t, hearth_err.ExitPrecondition, hearth_err.GetExitCode(err))
	assert.True(t, hearth_err.IsKind(err, hearth_err.KindInsufficientPrivilege))
}

func TestWrapPassesRuntimeContext(t *testing.T) {
	var seen *hearth_io.RuntimeContext
	run := Wrap(func(rc *hearth_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		seen = rc
		return nil
	})

	require.NoError(t, run(newCmd(), []string{"a"}))
	require.NotNil(t, seen)
	assert.Equal(t, "probe", seen.Command)
	assert.NotEmpty(t, seen.TraceID)
	assert.NotNil(t, seen.Log)
}

func TestWrapUserErrorNotStacked(t *testing.T) {
	userErr := hearth_err.NewUserError("unknown service %q", "zigbee")
	run := Wrap(func(rc *hearth_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		return userErr
	})

	err := run(newCmd(), nil)
	assert.True(t, errors.Is(err, userErr))
	assert.True(t, hearth_err.IsExpectedUserError(err))
}

func TestSignalHandlerCancelsThenForcesExit(t *testing.T) {
	exited := make(chan int, 1)
	h := newSignalHandler(context.Background(), func(code int) { exited <- code })
	go h.handleSignals()
	defer h.Stop()

	h.sigChan <- syscall.SIGINT
	select {
	case <-h.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context was not cancelled by first signal")
	}

	h.sigChan <- syscall.SIGINT
	select {
	case code := <-exited:
		assert.Equal(t, 130, code)
	case <-time.After(2 * time.Second):
		t.Fatal("second signal did not force exit")
	}
}

func TestSignalHandlerStopIsIdempotent(t *testing.T) {
	h := newSignalHandler(context.Background(), func(int) {})
	go h.handleSignals()
	h.Stop()
	h.Stop()
	assert.Error(t, h.Context().Err())
}
