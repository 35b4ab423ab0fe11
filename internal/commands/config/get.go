package config

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/shuttlefile/shuttle/pkg/config"
)

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value",
		Long: `Get a configuration value from ~/.shuttle/config.yaml

Examples:
  shuttle config get endpoint
  shuttle config get chunk-size
  shuttle config get skip-version-check`,
		Args: cobra.ExactArgs(1),
		RunE: runGet,
	}
}

func runGet(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	key := args[0]

	// Normalize the key (convert kebab-case to lowercase)
	normalizedKey := strings.ToLower(strings.ReplaceAll(key, "-", ""))

	// Validate that this is a recognized user-facing config key
	if !config.IsValidUserFacingKey(normalizedKey) {
		return fmt.Errorf("'%s' is not a recognized configuration key. Run 'shuttle config set --help' for valid keys", key)
	}

	// Get the environment-prefixed key (e.g., "endpoint" → "dev-endpoint" if in dev)
	env := config.GetEnvironment()
	actualKey := config.GetEnvironmentPrefixedKey(normalizedKey, env)

	// Get the value from viper
	if !viper.IsSet(actualKey) {
		return fmt.Errorf("configuration key '%s' not set", key)
	}

	value := viper.Get(actualKey)
	fmt.Println(value)

	return nil
}
