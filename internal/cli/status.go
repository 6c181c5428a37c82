package cli

import (
	"context"
	"fmt"

	"github.com/rewindlabs/rewind/internal/helpers"
	"github.com/rewindlabs/rewind/internal/ui"
	"github.com/spf13/cobra"
)

func StatusCmd(serverURL *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the daemon status for the managed deployment",
		Long:  "Show the current health and rollback activity of the deployment managed by the rewindd daemon.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := context.WithTimeout(context.Background(), defaultContextTimeout)
			defer cancel()

			api := newClient(serverURL)
			status, err := api.Status(ctx)
			if err != nil {
				ui.Error("Failed to get status: %v", err)
				return
			}

			engine := "stopped"
			if status.IntegrationRunning {
				engine = "running"
			}
			autoRollback := "disabled"
			if status.AutoRollbackEnabled {
				autoRollback = "enabled"
			}
			lastReport := "never"
			if status.LastReportTime != nil {
				lastReport = helpers.FormatRelativeTime(*status.LastReportTime)
			}

			lines := []string{
				fmt.Sprintf("Engine: %s", engine),
				fmt.Sprintf("Environment: %s", status.Environment),
				fmt.Sprintf("Health: %s", ui.HealthStatus(string(status.HealthStatus))),
				fmt.Sprintf("Auto-rollback: %s", autoRollback),
				fmt.Sprintf("Active rollbacks: %d", status.ActiveRollbacks),
				fmt.Sprintf("Total rollbacks: %d", status.TotalRollbacks),
				fmt.Sprintf("Last health report: %s", lastReport),
			}

			ui.Section(fmt.Sprintf("Status for %s", status.DeploymentID), lines)
		},
	}

	return cmd
}
