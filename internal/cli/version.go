package cli

import (
	"context"
	"fmt"

	"github.com/rewindlabs/rewind/internal/constants"
	"github.com/rewindlabs/rewind/internal/ui"
	"github.com/spf13/cobra"
)

func VersionCmd(serverURL *string) *cobra.Command {
	var daemon bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the current version of rewind",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("rewind %s\n", constants.Version)

			if !daemon {
				return
			}

			ctx, cancel := context.WithTimeout(context.Background(), defaultContextTimeout)
			defer cancel()

			api := newClient(serverURL)
			resp, err := api.Version(ctx)
			if err != nil {
				ui.Error("Failed to get daemon version: %v", err)
				return
			}
			fmt.Printf("rewindd %s\n", resp.Version)
		},
	}

	cmd.Flags().BoolVar(&daemon, "daemon", false, "Also print the version of the connected rewindd daemon")
	return cmd
}
