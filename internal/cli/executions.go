package cli

import (
	"context"
	"fmt"

	"github.com/rewindlabs/rewind/internal/helpers"
	"github.com/rewindlabs/rewind/internal/ui"
	"github.com/spf13/cobra"
)

func ExecutionsCmd(serverURL *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "executions <deployment-id>",
		Short: "List rollback executions for a deployment",
		Long:  "List rollback executions for a deployment, most recent first.",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			deploymentID := args[0]

			ctx, cancel := context.WithTimeout(context.Background(), defaultContextTimeout)
			defer cancel()

			api := newClient(serverURL)
			history, err := api.History(ctx, deploymentID, limit)
			if err != nil {
				ui.Error("Failed to get execution history: %v", err)
				return
			}

			if len(history.Executions) == 0 {
				ui.Info("No executions found for deployment '%s'", deploymentID)
				return
			}

			headers := []string{"EXECUTION ID", "STATUS", "REASON", "TRIGGERED BY", "STARTED", "DURATION", "STEPS"}
			rows := make([][]string, 0, len(history.Executions))
			for _, execution := range history.Executions {
				succeeded, failed, skipped := execution.CountOutcomes()
				rows = append(rows, []string{
					execution.ExecutionID,
					string(execution.Status),
					string(execution.Trigger.Reason),
					execution.Trigger.TriggeredBy,
					helpers.FormatRelativeTime(execution.StartedAt),
					formatDuration(execution.DurationMinutes),
					fmt.Sprintf("%d/%d/%d", succeeded, failed, skipped),
				})
			}

			ui.Table(headers, rows)
			ui.Info("Steps are succeeded/failed/skipped. Inspect one with: rewind execution <execution-id>")
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of executions to list (0 uses the server default)")
	return cmd
}
