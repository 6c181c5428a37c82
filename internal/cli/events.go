package cli

import (
	"context"

	"github.com/rewindlabs/rewind/internal/ui"
	"github.com/spf13/cobra"
)

func EventsCmd(serverURL *string) *cobra.Command {
	var executionID string

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Stream events from the rewindd daemon",
		Long: `Stream engine events from the rewindd daemon in real-time.

This includes health evaluations, rule firings, rollback step progress and
notification activity. With --execution the stream is scoped to a single
rollback execution and ends when it reaches a terminal status; otherwise
the stream continues until interrupted (Ctrl+C).`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			api := newClient(serverURL)
			if executionID == "" {
				ui.Info("Streaming daemon events... (Press Ctrl+C to stop)")
			}

			if err := api.StreamEvents(ctx, executionID); err != nil {
				ui.Error("Failed to stream events: %v", err)
				return
			}
		},
	}

	cmd.Flags().StringVarP(&executionID, "execution", "x", "", "Only stream events for this execution and stop when it finishes")
	return cmd
}
