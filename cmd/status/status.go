// cmd/status/status.go
package status

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/CodeMonkeyCybersecurity/hearth/pkg/config"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/docker"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/execute"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/hearth_cli"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/hearth_io"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/provision"
	"github.com/spf13/cobra"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// StatusCmd lists hearth-managed containers.
var StatusCmd = &cobra.Command{
	Use:     "status",
	Aliases: []string{"ps"},
	Short:   "List the containers hearth manages",
	Long: `Status lists every container carrying the hearth management label, with its
state and published ports. It never changes anything.

Examples:
  hearth status
  hearth status --json`,
	Args: cobra.NoArgs,
	RunE: hearth_cli.Wrap(func(rc *hearth_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		logger := otelzap.Ctx(rc.Ctx)
		outputJSON, _ := cmd.Flags().GetBool("json")

		cfg, err := config.FromCommand(cmd)
		if err != nil {
			return err
		}
		plan, err := provision.NewPlan(cfg)
		if err != nil {
			return err
		}

		list, err := provision.New(execute.NewRunner()).Status(rc, plan)
		if err != nil {
			logger.Error("Failed to list containers", zap.Error(err))
			return err
		}
		logger.Debug("Listed managed containers", zap.Int("count", len(list)))

		if outputJSON {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(list)
		}
		printTable(list)
		return nil
	}),
}

func init() {
	config.AddFlags(StatusCmd.Flags())
	StatusCmd.Flags().Bool("json", false, "Output in JSON format")
}

func printTable(list []docker.ContainerStatus) {
	if len(list) == 0 {
		fmt.Println("No hearth-managed containers found. Run `sudo hearth install` first.")
		return
	}

	running := 0
	for _, c := range list {
		if c.Running() {
			running++
		}
	}
	fmt.Printf("Containers: %d total, %d running\n\n", len(list), running)
	fmt.Printf("%-16s %-16s %-46s %-24s %s\n", "NAME", "SERVICE", "IMAGE", "STATUS", "PORTS")
	fmt.Println(strings.Repeat("-", 120))
	for _, c := range list {
		ports := "-"
		if len(c.Ports) > 0 {
			ports = strings.Join(c.Ports, ", ")
		}
		status := c.Status
		if status == "" {
			status = c.State
		}
		fmt.Printf("%-16s %-16s %-46s %-24s %s\n", c.Name, c.Service, c.Image, status, ports)
	}
}
