package cli

import (
	"context"

	"github.com/rewindlabs/rewind/internal/ui"
	"github.com/spf13/cobra"
)

func CancelCmd(serverURL *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <execution-id>",
		Short: "Cancel a running rollback execution",
		Long: `Cancel a rollback execution that has not reached a terminal status.

Cancellation is cooperative: steps that are already running finish first,
and the execution settles as cancelled afterwards. Executions that already
reached a terminal status cannot be cancelled.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			executionID := args[0]

			ctx, cancel := context.WithTimeout(context.Background(), defaultContextTimeout)
			defer cancel()

			api := newClient(serverURL)
			if err := api.CancelExecution(ctx, executionID); err != nil {
				ui.Error("Failed to cancel execution: %v", err)
				return
			}

			ui.Success("Cancellation requested for execution %s", executionID)
			ui.Info("Check the final status with: rewind execution %s", executionID)
		},
	}

	return cmd
}
