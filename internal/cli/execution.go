package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rewindlabs/rewind/internal/helpers"
	"github.com/rewindlabs/rewind/internal/rollback"
	"github.com/rewindlabs/rewind/internal/ui"
	"github.com/spf13/cobra"
)

func ExecutionCmd(serverURL *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "execution <execution-id>",
		Short: "Show details for a rollback execution",
		Long:  "Show the full record of a rollback execution, including every step attempt and the post-rollback verification.",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			executionID := args[0]

			ctx, cancel := context.WithTimeout(context.Background(), defaultContextTimeout)
			defer cancel()

			api := newClient(serverURL)
			execution, err := api.Execution(ctx, executionID)
			if err != nil {
				ui.Error("Failed to get execution: %v", err)
				return
			}

			displayExecution(execution)
		},
	}

	return cmd
}

func displayExecution(execution *rollback.Execution) {
	lines := []string{
		fmt.Sprintf("Status: %s", ui.ExecutionStatus(string(execution.Status))),
		fmt.Sprintf("Deployment ID: %s", execution.Trigger.DeploymentID),
		fmt.Sprintf("Reason: %s", execution.Trigger.Reason),
		fmt.Sprintf("Triggered by: %s", execution.Trigger.TriggeredBy),
		fmt.Sprintf("Started: %s", helpers.FormatRelativeTime(execution.StartedAt)),
	}
	if execution.Trigger.Message != "" {
		lines = append(lines, fmt.Sprintf("Message: %s", execution.Trigger.Message))
	}
	if execution.CompletedAt != nil {
		lines = append(lines,
			fmt.Sprintf("Completed: %s", helpers.FormatRelativeTime(*execution.CompletedAt)),
			fmt.Sprintf("Duration: %s", formatDuration(execution.DurationMinutes)),
		)
	}
	if execution.Verification != nil {
		verification := fmt.Sprintf("Verification: %s", ui.HealthStatus(string(execution.Verification.Status)))
		if execution.Verification.Detail != "" {
			verification += fmt.Sprintf(" (%s)", execution.Verification.Detail)
		}
		lines = append(lines, verification)
	}

	ui.Section(fmt.Sprintf("Execution %s", execution.ExecutionID), lines)

	if len(execution.Steps) == 0 {
		ui.Info("No steps recorded yet.")
		return
	}

	fmt.Println()
	headers := []string{"SERVICE", "STEP", "OUTCOME", "ATTEMPT", "DURATION", "DETAIL"}
	rows := make([][]string, 0, len(execution.Steps))
	for _, step := range execution.Steps {
		rows = append(rows, []string{
			string(step.TargetService),
			step.Name,
			string(step.Outcome),
			strconv.Itoa(step.Attempt),
			step.FinishedAt.Sub(step.StartedAt).Round(time.Millisecond).String(),
			helpers.TruncateString(step.Detail, 60),
		})
	}
	ui.Table(headers, rows)
}
