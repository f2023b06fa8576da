// cmd/check/check.go
package check

import (
	"github.com/CodeMonkeyCybersecurity/hearth/cmd/install"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/config"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/hearth_cli"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/hearth_io"
	"github.com/spf13/cobra"
)

// CheckCmd runs only the precondition phase.
var CheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check host preconditions without changing anything",
	Long: `Check is install --dry-run: it verifies privilege, free disk, architecture
and RAM, reports whether a swap file would be created, and lists the packages
and containers a real run would install. Nothing on the host is modified.`,
	Args: cobra.NoArgs,
	RunE: hearth_cli.Wrap(func(rc *hearth_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		cfg, err := config.FromCommand(cmd)
		if err != nil {
			return err
		}
		cfg.DryRun = true
		return install.Run(rc, cfg)
	}),
}

func init() {
	config.AddFlags(CheckCmd.Flags())
	_ = CheckCmd.Flags().MarkHidden(config.KeyDryRun)
}
