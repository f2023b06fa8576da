// cmd/install/install.go
package install

import (
	"os"
	"strconv"
	"strings"

	"github.com/CodeMonkeyCybersecurity/hearth/pkg/config"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/execute"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/hearth_cli"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/hearth_io"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/provision"
	"github.com/spf13/cobra"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// InstallCmd converges the host.
var InstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Provision the host and start the selected services",
	Long: `Install runs every phase in order: preconditions (root, disk, architecture,
RAM with swap fallback), apt packages, credentials and service configuration,
container convergence, then readiness checks.

Re-running is safe. Existing credentials are preserved unless
--rotate-credentials is given, and containers are replaced in place.

Exit codes: 0 success (readiness failures only warn), 1 precondition,
2 package installation, 3 container orchestration, 4 configuration write.

Examples:
  sudo hearth install
  sudo hearth install --services mosquitto,nodered --profile minimal
  sudo hearth install --orchestrator compose --timezone Europe/Berlin`,
	Args: cobra.NoArgs,
	RunE: hearth_cli.Wrap(runInstall),
}

func init() {
	config.AddFlags(InstallCmd.Flags())
}

func runInstall(rc *hearth_io.RuntimeContext, cmd *cobra.Command, args []string) error {
	cfg, err := config.FromCommand(cmd)
	if err != nil {
		return err
	}
	return Run(rc, cfg)
}

// Run builds the plan from cfg, provisions and prints the report. Shared
// with the check command.
func Run(rc *hearth_io.RuntimeContext, cfg *config.Config) error {
	logger := otelzap.Ctx(rc.Ctx)

	plan, err := provision.NewPlan(cfg)
	if err != nil {
		return err
	}
	rc.Attributes["services"] = strings.Join(plan.ServiceNames(), ",")
	rc.Attributes["profile"] = plan.Profile
	rc.Attributes["dry_run"] = strconv.FormatBool(plan.DryRun)

	report, runErr := provision.New(execute.NewRunner()).Run(rc, plan)
	if err := report.Print(os.Stdout); err != nil {
		logger.Warn("Failed to print report", zap.Error(err))
	}
	return runErr
}
