package cmd

import (
	"testing"

	"github.com/CodeMonkeyCybersecurity/hearth/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterCommands(t *testing.T) {
	RegisterCommands()

	for _, name := range []string{"install", "check", "verify", "status", "catalog"} {
		c, _, err := RootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, c.Name())
	}

	install, _, err := RootCmd.Find([]string{"install"})
	require.NoError(t, err)
	for _, flag := range []string{config.KeyServices, config.KeyProfile, config.KeyDryRun, config.KeyOrchestrator, config.KeyRotateCredentials, config.KeyTimeZone} {
		assert.NotNil(t, install.Flags().Lookup(flag), flag)
	}

	check, _, err := RootCmd.Find([]string{"check"})
	require.NoError(t, err)
	assert.True(t, check.Flags().Lookup(config.KeyDryRun).Hidden)
}
