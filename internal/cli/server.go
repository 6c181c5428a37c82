package cli

import (
	"os"

	"github.com/rewindlabs/rewind/internal/config"
	"github.com/rewindlabs/rewind/internal/constants"
	"github.com/rewindlabs/rewind/internal/helpers"
	"github.com/rewindlabs/rewind/internal/ui"
	"github.com/spf13/cobra"
)

func ServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Manage saved rewindd servers",
		Long: `Manage the saved server registry the CLI resolves servers and tokens from.

Each entry maps a server URL to the name of an environment variable holding
that server's API token. With exactly one saved server, commands use it
without needing --server or ` + constants.EnvVarAPIURL + `.`,
	}

	cmd.AddCommand(
		ServerAddCmd(),
		ServerListCmd(),
		ServerRemoveCmd(),
	)

	return cmd
}

func ServerAddCmd() *cobra.Command {
	var tokenEnv string

	cmd := &cobra.Command{
		Use:   "add <url>",
		Short: "Save a server",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			addServer(args[0], tokenEnv)
		},
	}

	cmd.Flags().StringVar(&tokenEnv, "token-env", constants.EnvVarAPIToken, "Environment variable holding this server's API token")

	return cmd
}

func ServerListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved servers",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			listServers()
		},
	}
	return cmd
}

func ServerRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <url>",
		Short: "Remove a saved server",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			removeServer(args[0])
		},
	}
	return cmd
}

func addServer(url, tokenEnv string) {
	normalizedURL, err := helpers.NormalizeServerURL(url)
	if err != nil {
		ui.Error("Invalid server URL: %v", err)
		return
	}

	path, err := config.ClientConfigPath()
	if err != nil {
		ui.Error("Failed to resolve config directory: %v", err)
		return
	}
	clientConfig, err := config.LoadClientConfig(path)
	if err != nil {
		ui.Error("Failed to load client config: %v", err)
		return
	}
	if clientConfig == nil {
		clientConfig = &config.ClientConfig{}
	}

	clientConfig.AddServer(normalizedURL, tokenEnv)
	if err := clientConfig.Save(path); err != nil {
		ui.Error("Failed to save client config: %v", err)
		return
	}

	ui.Success("Saved server %s", normalizedURL)
	if os.Getenv(tokenEnv) == "" {
		ui.Info("Set %s to this server's API token before running commands against it", tokenEnv)
	}
}

func listServers() {
	path, err := config.ClientConfigPath()
	if err != nil {
		ui.Error("Failed to resolve config directory: %v", err)
		return
	}
	clientConfig, err := config.LoadClientConfig(path)
	if err != nil {
		ui.Error("Failed to load client config: %v", err)
		return
	}

	if clientConfig == nil || len(clientConfig.Servers) == 0 {
		ui.Info("No servers saved. Add one with: rewind server add <url>")
		return
	}

	headers := []string{"SERVER", "TOKEN ENV", "TOKEN"}
	rows := make([][]string, 0, len(clientConfig.Servers))
	for _, url := range clientConfig.ListServers() {
		tokenEnv := clientConfig.Servers[url]
		tokenState := "set"
		if os.Getenv(tokenEnv) == "" {
			tokenState = "missing"
		}
		rows = append(rows, []string{url, tokenEnv, tokenState})
	}

	ui.Table(headers, rows)
}

func removeServer(url string) {
	normalizedURL, err := helpers.NormalizeServerURL(url)
	if err != nil {
		ui.Error("Invalid server URL: %v", err)
		return
	}

	path, err := config.ClientConfigPath()
	if err != nil {
		ui.Error("Failed to resolve config directory: %v", err)
		return
	}
	clientConfig, err := config.LoadClientConfig(path)
	if err != nil {
		ui.Error("Failed to load client config: %v", err)
		return
	}
	if clientConfig == nil {
		ui.Info("No servers saved")
		return
	}

	if err := clientConfig.RemoveServer(normalizedURL); err != nil {
		ui.Error("%v", err)
		return
	}
	if err := clientConfig.Save(path); err != nil {
		ui.Error("Failed to save client config: %v", err)
		return
	}

	ui.Success("Removed server %s", normalizedURL)
}
