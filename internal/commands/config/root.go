package config

import (
	"github.com/spf13/cobra"
)

// NewConfigCmd creates the config command group
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage CLI configuration",
		Long: `Manage CLI configuration settings.

Configuration is stored in ~/.shuttle/config.yaml

Available subcommands:
  set   - Set a configuration value
  get   - Get a configuration value
  list  - List all configuration
  init  - Create a shuttle.toml project file`,
	}

	// Add subcommands
	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newInitCmd())

	return cmd
}
