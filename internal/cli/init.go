package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rewindlabs/rewind/internal/constants"
	"github.com/rewindlabs/rewind/internal/embed"
	"github.com/rewindlabs/rewind/internal/ui"
	"github.com/spf13/cobra"
)

func InitCmd() *cobra.Command {
	var format string
	var force bool

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Create a starter rewind config file",
		Long: `Create a starter rewind configuration file from an embedded template.

The file is written to the given directory, or the current directory if none
is provided. Edit the deployment section to describe your services, then
check the result with 'rewind validate'.`,
		Args: cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}

			templatePath, fileName, err := configTemplate(format)
			if err != nil {
				ui.Error("%v", err)
				return
			}

			if err := os.MkdirAll(dir, constants.ModeDirDefault); err != nil {
				ui.Error("Failed to create directory '%s': %v", dir, err)
				return
			}

			targetPath := filepath.Join(dir, fileName)
			if _, err := os.Stat(targetPath); err == nil && !force {
				ui.Error("Config file '%s' already exists. Use --force to overwrite.", targetPath)
				return
			}

			data, err := embed.TemplatesFS.ReadFile(templatePath)
			if err != nil {
				ui.Error("Failed to read embedded template: %v", err)
				return
			}

			if err := os.WriteFile(targetPath, data, constants.ModeFileDefault); err != nil {
				ui.Error("Failed to write config file: %v", err)
				return
			}

			ui.Success("Created %s", targetPath)
			ui.Info("Edit the deployment section, then check it with: rewind validate %s", dir)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "Config format: yaml, toml or json")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	return cmd
}

func configTemplate(format string) (templatePath, fileName string, err error) {
	switch format {
	case "yaml", "yml":
		return embed.ConfigTemplateYAML, "rewind.yaml", nil
	case "toml":
		return embed.ConfigTemplateTOML, "rewind.toml", nil
	case "json":
		return embed.ConfigTemplateJSON, "rewind.json", nil
	default:
		return "", "", fmt.Errorf("unsupported format '%s' (must be 'yaml', 'toml', or 'json')", format)
	}
}
