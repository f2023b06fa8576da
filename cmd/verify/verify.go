// cmd/verify/verify.go
package verify

import (
	"os"

	"github.com/CodeMonkeyCybersecurity/hearth/pkg/config"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/execute"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/hearth_cli"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/hearth_io"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/provision"
	"github.com/spf13/cobra"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// VerifyCmd polls the selected services' endpoints.
var VerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Wait for the selected services to answer on their ports",
	Long: `Verify runs the readiness checks of the install command on their own: TCP
connects for Mosquitto and Portainer, HTTP requests for Home Assistant and
Node-RED. Services that never answer are reported but do not change the exit
code.

Examples:
  hearth verify
  hearth verify --services homeassistant --verify-timeout 10m`,
	Args: cobra.NoArgs,
	RunE: hearth_cli.Wrap(func(rc *hearth_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		logger := otelzap.Ctx(rc.Ctx)

		cfg, err := config.FromCommand(cmd)
		if err != nil {
			return err
		}
		plan, err := provision.NewPlan(cfg)
		if err != nil {
			return err
		}

		report, err := provision.New(execute.NewRunner()).Verify(rc, plan)
		if perr := report.Print(os.Stdout); perr != nil {
			logger.Warn("Failed to print report", zap.Error(perr))
		}
		return err
	}),
}

func init() {
	config.AddFlags(VerifyCmd.Flags())
}
