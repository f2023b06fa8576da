/* cmd/root.go */

package cmd

import (
	"fmt"
	"strings"

	"github.com/CodeMonkeyCybersecurity/hearth/pkg/hearth_cli"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/hearth_io"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/shared"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	// Subcommands
	"github.com/CodeMonkeyCybersecurity/hearth/cmd/catalog"
	"github.com/CodeMonkeyCybersecurity/hearth/cmd/check"
	"github.com/CodeMonkeyCybersecurity/hearth/cmd/install"
	"github.com/CodeMonkeyCybersecurity/hearth/cmd/status"
	"github.com/CodeMonkeyCybersecurity/hearth/cmd/verify"

	// Internal packages
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/logger"
)

var helpLogged bool // log help only once

// RootCmd is the base command for hearth.
var RootCmd = &cobra.Command{
	Use:   "hearth",
	Short: "Provision home-automation services on ARM single-board hosts",
	Long: `hearth converges a Tanix TX3 class box (aarch64, Armbian/Debian) into a
home-automation host: swap and preconditions, apt packages, credentials and
service configuration, then Home Assistant, Mosquitto, Node-RED and Portainer
containers, followed by readiness checks.

Every step is idempotent; re-running install is always safe.`,
	Version:       shared.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: hearth_cli.Wrap(func(rc *hearth_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		fmt.Println("⚠️  No subcommand provided. Try `hearth help`.")
		return cmd.Help()
	}),
}

// HelpCmd wraps help so that it can be invoked like a normal command.
var HelpCmd = &cobra.Command{
	Use:   "help [command]",
	Short: "Help about any command",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return RootCmd.Help()
		}
		c, _, err := RootCmd.Find(args)
		if err != nil || c == nil {
			return fmt.Errorf("command not found: %s", strings.Join(args, " "))
		}
		return c.Help()
	},
}

// RegisterCommands adds all subcommands to the root command.
func RegisterCommands() {
	RootCmd.SetHelpCommand(HelpCmd)

	log := logger.L()
	defaultHelp := RootCmd.HelpFunc()
	RootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		if !helpLogged {
			log.Debug("Help requested", zap.String("command", cmd.Name()))
			helpLogged = true
		}
		defaultHelp(cmd, args)
	})

	for _, subCmd := range []*cobra.Command{
		install.InstallCmd,
		check.CheckCmd,
		verify.VerifyCmd,
		status.StatusCmd,
		catalog.CatalogCmd,
	} {
		RootCmd.AddCommand(subCmd)
	}
}

// Execute runs the root command and returns its error for exit code mapping.
func Execute() (err error) {
	defer logger.LogCommandLifecycle("hearth")(&err)

	RegisterCommands()
	return RootCmd.Execute()
}
