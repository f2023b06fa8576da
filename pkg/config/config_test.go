package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/CodeMonkeyCybersecurity/hearth/pkg/hearth_err"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCommand(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "install"}
	AddFlags(cmd.Flags())
	require.NoError(t, cmd.Flags().Parse(args))
	return cmd
}

func load(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	cmd := newCommand(t, args...)
	v := NewViper()
	require.NoError(t, BindFlags(cmd, v))
	return Load(v)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(t, "--config", "")
	require.NoError(t, err)

	assert.Equal(t, DefaultServices, cfg.Services)
	assert.Equal(t, "standard", cfg.Profile)
	assert.Equal(t, int64(1024), cfg.MinRAMMB)
	assert.Equal(t, int64(10), cfg.MinDiskGB)
	assert.Equal(t, "aarch64", cfg.Arch)
	assert.Equal(t, int64(2048), cfg.SwapSizeMB)
	assert.Equal(t, "/opt/hearth", cfg.BaseDir)
	assert.Equal(t, OrchestratorSDK, cfg.Orchestrator)
	assert.Equal(t, 3*time.Minute, cfg.VerifyTimeout)
	assert.False(t, cfg.DryRun)
	assert.False(t, cfg.RotateCredentials)
}

func TestLoadFlagsOverride(t *testing.T) {
	cfg, err := load(t,
		"--config", "",
		"--services", "Mosquitto, nodered,mosquitto",
		"--profile", "minimal",
		"--min-disk-gb", "5",
		"--dry-run",
		"--verify-timeout", "30s",
	)
	require.NoError(t, err)

	assert.Equal(t, []string{"mosquitto", "nodered"}, cfg.Services)
	assert.Equal(t, "minimal", cfg.Profile)
	assert.Equal(t, int64(5), cfg.MinDiskGB)
	assert.True(t, cfg.DryRun)
	assert.Equal(t, 30*time.Second, cfg.VerifyTimeout)
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("HEARTH_PROFILE", "full")
	t.Setenv("HEARTH_ORCHESTRATOR", "compose")

	cfg, err := load(t, "--config", "")
	require.NoError(t, err)
	assert.Equal(t, "full", cfg.Profile)
	assert.Equal(t, OrchestratorCompose, cfg.Orchestrator)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hearth.yaml")
	require.NoError(t, os.WriteFile(path, []byte("profile: full\nmin-ram-mb: 4096\n"), 0600))

	cfg, err := load(t, "--config", path)
	require.NoError(t, err)
	assert.Equal(t, "full", cfg.Profile)
	assert.Equal(t, int64(4096), cfg.MinRAMMB)
}

func TestLoadExplicitMissingConfigFails(t *testing.T) {
	_, err := load(t, "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, hearth_err.IsExpectedUserError(err))
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown service", []string{"--services", "zigbee2mqtt"}},
		{"unknown profile", []string{"--profile", "huge"}},
		{"unknown orchestrator", []string{"--orchestrator", "k3s"}},
		{"relative base dir", []string{"--base-dir", "opt/hearth"}},
		{"tiny swap", []string{"--swap-size-mb", "16"}},
		{"interval above timeout", []string{"--verify-timeout", "2s", "--verify-interval", "5s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(t, append([]string{"--config", ""}, tt.args...)...)
			require.Error(t, err)
			assert.True(t, hearth_err.IsExpectedUserError(err))
			assert.Equal(t, hearth_err.ExitPrecondition, hearth_err.GetExitCode(err))
		})
	}
}

func TestRerunCommand(t *testing.T) {
	cfg := &Config{Services: []string{"mosquitto"}, Profile: "minimal", Orchestrator: OrchestratorCompose, BaseDir: "/opt/hearth"}
	assert.Equal(t, "sudo hearth install --services mosquitto --profile minimal --orchestrator compose", cfg.RerunCommand())
}
