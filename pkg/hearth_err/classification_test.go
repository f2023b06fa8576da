package hearth_err

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetExitCode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: ExitOK},
		{name: "privilege", err: NewInsufficientPrivilege(1000), want: ExitPrecondition},
		{name: "disk", err: NewInsufficientResources("disk", 5, 10, "GB"), want: ExitPrecondition},
		{name: "packages", err: NewPackageInstallError([]string{"docker.io"}, errors.New("exit 100")), want: ExitPackages},
		{name: "config", err: NewConfigWriteError("/opt/hearth/mosquitto/mosquitto.conf", errors.New("EROFS")), want: ExitConfiguration},
		{name: "engine", err: NewEngineUnavailable(errors.New("inactive")), want: ExitOrchestration},
		{name: "orchestration", err: NewOrchestrationError("mosquitto", errors.New("port in use")), want: ExitOrchestration},
		{name: "verification", err: NewVerificationTimeout("nodered", time.Minute, nil), want: ExitOK},
		{name: "wrapped", err: fmt.Errorf("phase: %w", NewOrchestrationError("nodered", nil)), want: ExitOrchestration},
		{name: "hinted", err: WithRerunHint(NewPackageInstallError([]string{"jq"}, nil), "hearth install"), want: ExitPackages},
		{name: "plain", err: errors.New("boom"), want: ExitPrecondition},
		{name: "user", err: NewUserError("unknown service %q", "zigbee"), want: ExitPrecondition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

func TestKindPhaseAndFatality(t *testing.T) {
	t.Parallel()
	assert.Equal(t, PhaseChecking, KindInsufficientPrivilege.Phase())
	assert.Equal(t, PhaseChecking, KindUnsupportedArchitecture.Phase())
	assert.Equal(t, PhaseInstalling, KindPackageInstall.Phase())
	assert.Equal(t, PhaseConfiguring, KindConfigWrite.Phase())
	assert.Equal(t, PhaseOrchestrating, KindEngineUnavailable.Phase())
	assert.Equal(t, PhaseVerifying, KindVerificationTimeout.Phase())

	assert.False(t, KindUnsupportedArchitecture.Fatal())
	assert.False(t, KindVerificationTimeout.Fatal())
	assert.True(t, KindInsufficientResources.Fatal())
	assert.True(t, KindOrchestration.Fatal())
}

func TestProvisionErrorMessage(t *testing.T) {
	t.Parallel()
	cause := errors.New("E: Unable to locate package mosquito")
	err := NewPackageInstallError([]string{"mosquito", "jq"}, cause)

	assert.Contains(t, err.Error(), "PackageInstallError{mosquito,jq}")
	assert.Contains(t, err.Error(), "Unable to locate package")
	assert.ErrorIs(t, err, cause)

	pe, ok := AsProvisionError(err)
	require.True(t, ok)
	desc := pe.Describe()
	assert.Contains(t, desc, `Phase "installing" failed`)
	assert.Contains(t, desc, "How to fix:")
	assert.Contains(t, desc, "sudo hearth install")
}

func TestIsKind(t *testing.T) {
	t.Parallel()
	err := fmt.Errorf("outer: %w", NewInsufficientResources("disk", 5, 10, "GB"))
	assert.True(t, IsKind(err, KindInsufficientResources))
	assert.False(t, IsKind(err, KindInsufficientPrivilege))
	assert.False(t, IsKind(errors.New("x"), KindInsufficientResources))
}

func TestWithRerunHint(t *testing.T) {
	t.Parallel()
	assert.Nil(t, WithRerunHint(nil, "hearth install"))

	err := WithRerunHint(NewEngineUnavailable(errors.New("timeout")), "sudo hearth install")
	hints := Hints(err)
	require.NotEmpty(t, hints)
	assert.Contains(t, hints[0], "sudo hearth install")
	assert.True(t, IsKind(err, KindEngineUnavailable))
}

func TestExtractSummary(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		output string
		max    int
		want   string
	}{
		{name: "empty", output: "  ", max: 2, want: "No output provided."},
		{
			name:   "apt error",
			output: "Reading package lists...\nE: Unable to locate package mosquito\nE: Some index files failed",
			max:    1,
			want:   "E: Unable to locate package mosquito",
		},
		{name: "no error lines", output: "line one\nline two\n", max: 2, want: "line two"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ExtractSummary(tt.output, tt.max))
		})
	}
}

func TestUserError(t *testing.T) {
	t.Parallel()
	err := NewUserError("unknown service %q", "zigbee")
	assert.True(t, IsExpectedUserError(err))
	assert.False(t, IsExpectedUserError(errors.New("x")))
	assert.Nil(t, NewExpectedError(nil))
	assert.True(t, IsExpectedUserError(WrapValidationError(errors.New("bad range"))))
}
