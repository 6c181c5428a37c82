package cli

import (
	"github.com/spf13/cobra"
)

func NewRootCmd() *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:           "rewind",
		Short:         "rewind manages rollback executions and health monitoring for a deployment",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "", "rewindd API server URL (overrides REWIND_API_URL)")

	cmd.AddCommand(
		InitCmd(),
		ValidateConfigCmd(),
		StatusCmd(&serverURL),
		TriggerCmd(&serverURL),
		ExecutionsCmd(&serverURL),
		ExecutionCmd(&serverURL),
		CancelCmd(&serverURL),
		ReportCmd(&serverURL),
		EventsCmd(&serverURL),
		SecretsCmd(&serverURL),
		ServerCmd(),
		VersionCmd(&serverURL),
		CompletionCmd(),
	)

	return cmd
}

// Execute runs the root command. Callers decide what to do with the error.
func Execute() error {
	return NewRootCmd().Execute()
}
