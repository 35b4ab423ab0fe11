package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/shuttlefile/shuttle/pkg/config"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all configuration",
		Long: `List all configuration keys and values from ~/.shuttle/config.yaml

Example:
  shuttle config list`,
		Args: cobra.NoArgs,
		RunE: runList,
	}
}

// kebab maps normalized config keys back to their user-facing spelling.
var kebab = map[string]string{
	"skipversioncheck": "skip-version-check",
	"loglevel":         "log-level",
	"chunksize":        "chunk-size",
}

func displayName(key string) string {
	if k, ok := kebab[key]; ok {
		return k
	}
	return key
}

func runList(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	// Get current environment
	env := config.GetEnvironment()
	envPrefix := ""
	if env != config.EnvProd {
		envPrefix = string(env) + "-"
	}

	// Get all settings from viper
	settings := viper.AllSettings()

	if len(settings) == 0 {
		fmt.Println("No configuration found")
		return nil
	}

	type row struct {
		userFacingKey string
		value         any
	}
	var rows []row

	globalKeys := map[string]bool{
		"skipversioncheck": true,
		"loglevel":         true,
		"telemetry":        true,
	}

	for key, val := range settings {
		if globalKeys[key] {
			rows = append(rows, row{displayName(key), val})
			continue
		}

		// Only show keys for the current environment
		if !strings.HasPrefix(key, envPrefix) {
			continue
		}
		userFacingKey := strings.TrimPrefix(key, envPrefix)

		// The token is managed by --token / SHUTTLE_TOKEN, not shown here
		if userFacingKey == "token" {
			continue
		}

		rows = append(rows, row{displayName(userFacingKey), val})
	}

	if len(rows) == 0 {
		fmt.Println("No configuration found")
		return nil
	}

	sort.Slice(rows, func(i, j int) bool {
		return rows[i].userFacingKey < rows[j].userFacingKey
	})

	for _, r := range rows {
		fmt.Printf("%-20s %v\n", r.userFacingKey, r.value)
	}

	return nil
}
