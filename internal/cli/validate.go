package cli

import (
	"fmt"

	"github.com/rewindlabs/rewind/internal/config"
	"github.com/rewindlabs/rewind/internal/ui"
	"github.com/spf13/cobra"
)

func ValidateConfigCmd() *cobra.Command {
	var printConfig bool

	cmd := &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate a rewind config file",
		Long: `Validate a rewind configuration file.

The path can be a directory containing rewind.yaml, rewind.yml, rewind.json
or rewind.toml, or a full path to a config file with a supported extension.
If no path is provided, the current directory is used.

With --print the normalized configuration, with all defaults filled in, is
written to stdout in the file's own format instead of the summary.`,
		Args: cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}

			cfg, format, err := config.Load(path)
			if err != nil {
				ui.Error("Config validation failed: %v", err)
				return
			}

			if printConfig {
				data, err := cfg.Marshal(format)
				if err != nil {
					ui.Error("Failed to render config: %v", err)
					return
				}
				fmt.Print(string(data))
				return
			}

			ui.Success("Config is valid (%s)", format)
			ui.Section(fmt.Sprintf("Deployment %s", cfg.Deployment.DeploymentID), []string{
				fmt.Sprintf("Environment: %s", cfg.Deployment.Environment),
				fmt.Sprintf("Services: %d", len(cfg.Deployment.Services)),
				fmt.Sprintf("Health checks: %d", len(cfg.Monitoring.Checks)),
				fmt.Sprintf("Rules: %d", len(cfg.Monitoring.Rules)),
				fmt.Sprintf("Rollback targets: %d", len(cfg.Rollback.Targets)),
			})
		},
	}

	cmd.Flags().BoolVar(&printConfig, "print", false, "Print the normalized config to stdout")

	return cmd
}
