package cli

import (
	"context"
	"os/user"

	"github.com/rewindlabs/rewind/internal/apitypes"
	"github.com/rewindlabs/rewind/internal/ui"
	"github.com/spf13/cobra"
)

func TriggerCmd(serverURL *string) *cobra.Command {
	var environment string
	var reason string
	var noFollow bool

	cmd := &cobra.Command{
		Use:   "trigger <deployment-id>",
		Short: "Trigger a rollback for a deployment",
		Long: `Trigger a manual rollback for a deployment.

The daemon resolves the rollback targets from its configuration unless the
deployment ID does not match the one it manages, in which case the request
is rejected. The command follows the execution events until the rollback
reaches a terminal status unless --no-follow is given.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			deploymentID := args[0]

			ctx, cancel := context.WithTimeout(context.Background(), defaultContextTimeout)
			defer cancel()

			api := newClient(serverURL)
			resp, err := api.TriggerRollback(ctx, apitypes.RollbackRequest{
				DeploymentID: deploymentID,
				Environment:  environment,
				Reason:       reason,
				TriggeredBy:  triggeredBy(),
			})
			if err != nil {
				ui.Error("Failed to trigger rollback: %v", err)
				return
			}

			ui.Success("Rollback %s accepted for %s", resp.ExecutionID, deploymentID)

			if noFollow {
				ui.Info("Follow progress with: rewind events --execution %s", resp.ExecutionID)
				return
			}

			// The execution outlives the request timeout, so the follow gets
			// its own context. It ends when the execution reaches a terminal
			// status or the user interrupts.
			streamCtx, streamCancel := context.WithCancel(context.Background())
			defer streamCancel()

			if err := api.StreamEvents(streamCtx, resp.ExecutionID); err != nil {
				ui.Warn("Failed to stream execution events: %v", err)
			}
		},
	}

	cmd.Flags().StringVarP(&environment, "environment", "e", "", "Limit the rollback to targets in this environment")
	cmd.Flags().StringVarP(&reason, "reason", "r", "", "Reason recorded on the rollback trigger")
	cmd.Flags().BoolVar(&noFollow, "no-follow", false, "Don't follow execution events")

	return cmd
}

func triggeredBy() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "cli"
}
