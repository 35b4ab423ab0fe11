package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	DefaultConfigDir  = ".shuttle"
	DefaultConfigFile = "config.yaml"
)

// Config holds the CLI configuration
type Config struct {
	environment Environment
	envConfig   *EnvConfig

	Endpoint         string // default endpoint URL for transfers
	Token            string // bearer token for authenticated endpoints
	Transport        string // "http" or "socket"
	ChunkSize        int64  // requested chunk size in bytes; 0 uses the adaptive default
	Concurrency      int    // chunks in flight; 0 uses the engine default
	Quality          string // link quality hint: fast/medium/slow
	SkipVersionCheck bool
	LogLevel         string
	TelemetryEnabled *bool // Pointer to distinguish between unset (nil) and explicitly set (true/false)
}

// ValidUserFacingConfigKeys lists config keys that users should interact with
// (excludes the token, which is managed by the --token flag or environment).
var ValidUserFacingConfigKeys = map[string]bool{
	// Global settings
	"skipversioncheck": true,
	"loglevel":         true,
	"telemetry":        true,

	// Environment-specific settings (user doesn't need to know about env prefixes)
	"endpoint":    true,
	"transport":   true,
	"chunksize":   true,
	"concurrency": true,
	"quality":     true,
}

// IsValidUserFacingKey checks if a config key is a recognized user-facing key
func IsValidUserFacingKey(key string) bool {
	return ValidUserFacingConfigKeys[key]
}

// GetConfigKeyDescription returns a description for a config key
func GetConfigKeyDescription(key string) string {
	descriptions := map[string]string{
		"skipversioncheck": "Disable automatic version update checks (true/false)",
		"loglevel":         "Logging level (debug/info/warn/error, default: info)",
		"telemetry":        "Enable error telemetry and crash reporting (true/false, default: true)",
		"endpoint":         "Default endpoint URL for transfers",
		"transport":        "Transport to use (http/socket, default: http)",
		"chunksize":        "Requested chunk size in bytes (0 = adaptive default)",
		"concurrency":      "Number of chunks in flight (0 = engine default)",
		"quality":          "Link quality hint (fast/medium/slow)",
		"token":            "Bearer token for authenticated endpoints (managed by --token or SHUTTLE_TOKEN)",
	}
	return descriptions[key]
}

// GetEnvironmentPrefixedKey returns the key with environment prefix.
// For user-facing commands, users work with unprefixed keys (e.g., "endpoint");
// this function adds the environment prefix (e.g., "dev-endpoint") automatically.
func GetEnvironmentPrefixedKey(key string, env Environment) string {
	// Global keys (not environment-specific)
	globalKeys := map[string]bool{
		"skipversioncheck": true,
		"loglevel":         true,
		"telemetry":        true,
	}

	if globalKeys[key] {
		return key
	}

	return getKeyPrefix(env) + key
}

// GetUserFacingKeys returns the list of keys users should interact with
func GetUserFacingKeys() []string {
	return []string{
		"skip-version-check",
		"log-level",
		"endpoint",
		"transport",
		"chunk-size",
		"concurrency",
		"quality",
	}
}

// Load reads the configuration from ~/.shuttle/config.yaml
func Load() (*Config, error) {
	env := GetEnvironment()
	envConfig, err := GetEnvConfig(env)
	if err != nil {
		return nil, fmt.Errorf("failed to get environment config: %w", err)
	}

	configPath := getConfigPath()
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	// Create config file if it doesn't exist
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := ensureConfigDir(); err != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", err)
		}
		if err := viper.WriteConfig(); err != nil {
			return nil, fmt.Errorf("failed to create config file: %w", err)
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	prefix := getKeyPrefix(env)

	config := &Config{
		environment:      env,
		envConfig:        envConfig,
		Endpoint:         viper.GetString(prefix + "endpoint"),
		Token:            viper.GetString(prefix + "token"),
		Transport:        viper.GetString(prefix + "transport"),
		ChunkSize:        viper.GetInt64(prefix + "chunksize"),
		Concurrency:      viper.GetInt(prefix + "concurrency"),
		Quality:          viper.GetString(prefix + "quality"),
		SkipVersionCheck: viper.GetBool("skipversioncheck"), // Global setting (not env-specific)
		LogLevel:         viper.GetString("loglevel"),       // Global setting (not env-specific)
	}

	// Handle telemetry setting - use pointer to distinguish unset from false
	if viper.IsSet("telemetry") {
		telemetryEnabled := viper.GetBool("telemetry")
		config.TelemetryEnabled = &telemetryEnabled
	}

	return config, nil
}

// IsTelemetryEnabled returns whether telemetry is enabled.
// Returns true by default if not explicitly set (opt-out model).
func (c *Config) IsTelemetryEnabled() bool {
	// Environment variable takes highest priority
	if envVal := os.Getenv("SHUTTLE_TELEMETRY_DISABLED"); envVal != "" {
		return envVal != "true" && envVal != "1"
	}

	if c.TelemetryEnabled != nil {
		return *c.TelemetryEnabled
	}

	return true
}

// Save writes the current configuration to disk
func Save(config *Config) error {
	prefix := getKeyPrefix(config.environment)

	viper.Set(prefix+"endpoint", config.Endpoint)
	viper.Set(prefix+"token", config.Token)
	viper.Set(prefix+"transport", config.Transport)
	viper.Set(prefix+"chunksize", config.ChunkSize)
	viper.Set(prefix+"concurrency", config.Concurrency)
	viper.Set(prefix+"quality", config.Quality)
	viper.Set("skipversioncheck", config.SkipVersionCheck) // Global setting
	viper.Set("loglevel", config.LogLevel)                 // Global setting

	if config.TelemetryEnabled != nil {
		viper.Set("telemetry", *config.TelemetryEnabled)
	}

	if err := viper.WriteConfig(); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// getConfigPath returns the full path to the config file
func getConfigPath() string {
	if path := os.Getenv("SHUTTLE_CONFIG_PATH"); path != "" {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		// Fallback
		return filepath.Join(".", DefaultConfigDir, DefaultConfigFile)
	}

	return filepath.Join(homeDir, DefaultConfigDir, DefaultConfigFile)
}

// Context key for storing config
type contextKey string

const configContextKey contextKey = "config"

// GetConfigFromContext retrieves the config from the command context
func GetConfigFromContext(cmd *cobra.Command) (*Config, error) {
	ctx := cmd.Context()
	if ctx == nil {
		return nil, fmt.Errorf("no context available")
	}

	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok || cfg == nil {
		return nil, fmt.Errorf("config not found in context")
	}

	return cfg, nil
}

// GetContextKey returns the context key used for storing config.
// This is needed by root.go to store the config in context.
func GetContextKey() interface{} {
	return configContextKey
}

// GetEndpoint returns the endpoint to use, preferring the explicit override.
func (c *Config) GetEndpoint(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if c.Endpoint != "" {
		return c.Endpoint, nil
	}
	if c.envConfig != nil && c.envConfig.DefaultEndpoint != "" {
		return c.envConfig.DefaultEndpoint, nil
	}
	return "", fmt.Errorf("no endpoint configured. Pass --endpoint or run 'shuttle config set endpoint <url>'")
}

// GetToken returns the bearer token, preferring the environment variable.
func (c *Config) GetToken() string {
	if token := os.Getenv("SHUTTLE_TOKEN"); token != "" {
		return token
	}
	return c.Token
}

// GetTransport returns the configured transport kind, defaulting to http.
func (c *Config) GetTransport() string {
	switch strings.ToLower(c.Transport) {
	case "socket", "ws", "websocket":
		return "socket"
	default:
		return "http"
	}
}

// ensureConfigDir ensures the config directory exists
func ensureConfigDir() error {
	configPath := getConfigPath()
	configDir := filepath.Dir(configPath)
	return os.MkdirAll(configDir, 0755) //nolint:gosec // Config directory needs standard permissions
}

// getKeyPrefix returns the environment-specific key prefix
func getKeyPrefix(env Environment) string {
	if env == EnvProd {
		return ""
	}
	return string(env) + "-"
}

// GetEnvConfig returns the environment configuration
func (c *Config) GetEnvConfig() *EnvConfig {
	return c.envConfig
}

// GetLogLevel returns the configured log level as slog.Level.
// Defaults to Info if not set or invalid.
func (c *Config) GetLogLevel() slog.Level {
	if c.LogLevel == "" {
		return slog.LevelInfo
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
