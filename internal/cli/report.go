package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/rewindlabs/rewind/internal/helpers"
	"github.com/rewindlabs/rewind/internal/ui"
	"github.com/spf13/cobra"
)

func ReportCmd(serverURL *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show a health report for the managed deployment",
		Long:  "Generate and show a point-in-time health report for the deployment managed by the rewindd daemon.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := context.WithTimeout(context.Background(), defaultContextTimeout)
			defer cancel()

			api := newClient(serverURL)
			report, err := api.HealthReport(ctx)
			if err != nil {
				ui.Error("Failed to get health report: %v", err)
				return
			}

			lines := []string{
				fmt.Sprintf("Overall: %s", ui.HealthStatus(string(report.OverallStatus))),
				fmt.Sprintf("Generated: %s", helpers.FormatRelativeTime(report.GeneratedAt)),
			}
			ui.Section(fmt.Sprintf("Health report for %s", report.DeploymentID), lines)

			if len(report.Services) > 0 {
				fmt.Println()
				services := make([]string, 0, len(report.Services))
				for service := range report.Services {
					services = append(services, service)
				}
				sort.Strings(services)

				headers := []string{"SERVICE", "STATUS"}
				rows := make([][]string, 0, len(services))
				for _, service := range services {
					rows = append(rows, []string{service, string(report.Services[service])})
				}
				ui.Table(headers, rows)
			}

			for _, check := range report.FailedChecks {
				ui.Error("Failed check: %s", check)
			}
			for _, warning := range report.Warnings {
				ui.Warn("%s", warning)
			}
			for _, recommendation := range report.Recommendations {
				ui.Info("%s", recommendation)
			}
		},
	}

	return cmd
}
