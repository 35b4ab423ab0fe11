package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/shuttlefile/shuttle/internal/ui"
	"github.com/shuttlefile/shuttle/pkg/remoteconfig"
)

func newInitCmd() *cobra.Command {
	var endpoint string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a shuttle.toml project file",
		Long: `Create a shuttle.toml in the current directory with sensible defaults.

A shuttle.toml pins the endpoint and transfer tuning for a project so
upload and download don't need flags on every invocation.

Examples:
  shuttle config init --endpoint https://transfer.example.com
  shuttle config init --endpoint https://transfer.example.com --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(cmd, endpoint, force)
		},
	}

	cmd.Flags().StringVarP(&endpoint, "endpoint", "e", "", "Endpoint URL to pin in the project file")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing shuttle.toml")

	return cmd
}

func runConfigInit(cmd *cobra.Command, endpoint string, force bool) error {
	cmd.SilenceUsage = true

	if endpoint == "" {
		return ui.NewValidationError(fmt.Errorf("--endpoint is required"))
	}

	path := remoteconfig.DefaultFileName
	if _, err := os.Stat(path); err == nil && !force {
		abs, _ := filepath.Abs(path)
		return ui.NewValidationError(fmt.Errorf("%s already exists. Use --force to overwrite", abs))
	}

	project := remoteconfig.Starter(endpoint)
	if err := remoteconfig.Validate(project); err != nil {
		return ui.NewValidationError(err)
	}

	if err := remoteconfig.Write(path, project); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	fmt.Printf("✓ Created %s\n", path)
	return nil
}
