package cli

import (
	"context"

	"github.com/rewindlabs/rewind/internal/helpers"
	"github.com/rewindlabs/rewind/internal/ui"
	"github.com/spf13/cobra"
)

func SecretsCmd(serverURL *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage secrets stored by the rewindd daemon",
		Long:  "Manage the encrypted secrets the daemon resolves config references against, such as webhook URLs and database DSNs.",
	}

	cmd.AddCommand(
		SecretsSetCmd(serverURL),
		SecretsListCmd(serverURL),
		SecretsDeleteCmd(serverURL),
	)

	return cmd
}

func SecretsSetCmd(serverURL *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <name> <value>",
		Short: "Set a secret",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			setSecret(serverURL, args[0], args[1])
		},
	}
	return cmd
}

func SecretsListCmd(serverURL *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List secrets",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			listSecrets(serverURL)
		},
	}
	return cmd
}

func SecretsDeleteCmd(serverURL *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a secret",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			deleteSecret(serverURL, args[0])
		},
	}
	return cmd
}

func setSecret(serverURL *string, name, value string) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultContextTimeout)
	defer cancel()

	api := newClient(serverURL)
	if err := api.SetSecret(ctx, name, value); err != nil {
		ui.Error("Failed to set secret: %v", err)
		return
	}

	ui.Success("Secret '%s' set successfully", name)
}

func listSecrets(serverURL *string) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultContextTimeout)
	defer cancel()

	api := newClient(serverURL)
	resp, err := api.SecretsList(ctx)
	if err != nil {
		ui.Error("Failed to list secrets: %v", err)
		return
	}

	if len(resp.Secrets) == 0 {
		ui.Info("No secrets stored")
		return
	}

	headers := []string{"NAME", "DIGEST", "DATE"}
	rows := make([][]string, 0, len(resp.Secrets))
	for _, secret := range resp.Secrets {
		rows = append(rows, []string{
			secret.Name,
			secret.Digest,
			helpers.FormatRelativeTime(secret.UpdatedAt),
		})
	}

	ui.Table(headers, rows)
}

func deleteSecret(serverURL *string, name string) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultContextTimeout)
	defer cancel()

	api := newClient(serverURL)
	if err := api.DeleteSecret(ctx, name); err != nil {
		ui.Error("Failed to delete secret: %v", err)
		return
	}

	ui.Success("Secret '%s' deleted successfully", name)
}
