// Package remoteconfig reads the per-directory shuttle.toml file that pins
// transfer settings for a project: which endpoint to talk to, what to send,
// and how aggressively to chunk it.
package remoteconfig

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// DefaultFileName is the project config file looked up in the working
// directory.
const DefaultFileName = "shuttle.toml"

// Defaults applied to missing fields.
var (
	DefaultInclude     = []string{"**/*"}
	DefaultExclude     = []string{".*", ".*/**"}
	DefaultTransport   = "http"
	DefaultQuality     = "medium"
	DefaultConcurrency = 4
)

// ProjectConfig represents the complete shuttle.toml configuration.
type ProjectConfig struct {
	Endpoint EndpointConfig `mapstructure:"endpoint" toml:"endpoint"`
	Transfer TransferConfig `mapstructure:"transfer" toml:"transfer"`
	Files    FilesConfig    `mapstructure:"files" toml:"files"`
}

// EndpointConfig pins the remote side of transfers for this project.
type EndpointConfig struct {
	URL       string `mapstructure:"url" toml:"url"`
	Transport string `mapstructure:"transport" toml:"transport"`
}

// TransferConfig tunes the engine for this project.
type TransferConfig struct {
	ChunkSize   int64  `mapstructure:"chunk_size" toml:"chunk_size"`
	Concurrency int    `mapstructure:"concurrency" toml:"concurrency"`
	Quality     string `mapstructure:"quality" toml:"quality"`
	MaxRetries  int    `mapstructure:"max_retries" toml:"max_retries"`
}

// FilesConfig selects which files batch uploads include.
type FilesConfig struct {
	Include []string `mapstructure:"include" toml:"include"`
	Exclude []string `mapstructure:"exclude" toml:"exclude"`
}

// Load reads and parses the shuttle.toml configuration file.
func Load(configPath string) (*ProjectConfig, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s. Please run `shuttle config init` to create one", configPath)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if !v.IsSet("shuttle") {
		return nil, fmt.Errorf("'shuttle' key not found in %s. Please ensure your config file is valid", configPath)
	}

	var config ProjectConfig
	if err := v.UnmarshalKey("shuttle.endpoint", &config.Endpoint); err != nil {
		return nil, fmt.Errorf("failed to parse endpoint config: %w", err)
	}
	if v.IsSet("shuttle.transfer") {
		if err := v.UnmarshalKey("shuttle.transfer", &config.Transfer); err != nil {
			return nil, fmt.Errorf("failed to parse transfer config: %w", err)
		}
	}
	if v.IsSet("shuttle.files") {
		if err := v.UnmarshalKey("shuttle.files", &config.Files); err != nil {
			return nil, fmt.Errorf("failed to parse files config: %w", err)
		}
	}

	applyDefaults(&config)
	return &config, nil
}

// Validate checks the configuration for errors.
func Validate(config *ProjectConfig) error {
	if config.Endpoint.URL == "" {
		return fmt.Errorf("`endpoint.url` is required in config file")
	}
	switch config.Endpoint.Transport {
	case "http", "socket":
	default:
		return fmt.Errorf("`endpoint.transport` must be http or socket, got %q", config.Endpoint.Transport)
	}
	if config.Transfer.ChunkSize < 0 {
		return fmt.Errorf("`transfer.chunk_size` must not be negative")
	}
	if config.Transfer.Concurrency < 0 {
		return fmt.Errorf("`transfer.concurrency` must not be negative")
	}
	switch config.Transfer.Quality {
	case "", "fast", "medium", "slow":
	default:
		return fmt.Errorf("`transfer.quality` must be fast, medium or slow, got %q", config.Transfer.Quality)
	}
	return nil
}

func applyDefaults(config *ProjectConfig) {
	if config.Endpoint.Transport == "" {
		config.Endpoint.Transport = DefaultTransport
	}
	if config.Transfer.Quality == "" {
		config.Transfer.Quality = DefaultQuality
	}
	if config.Transfer.Concurrency == 0 {
		config.Transfer.Concurrency = DefaultConcurrency
	}
	if len(config.Files.Include) == 0 {
		config.Files.Include = append([]string(nil), DefaultInclude...)
	}
	if len(config.Files.Exclude) == 0 {
		config.Files.Exclude = append([]string(nil), DefaultExclude...)
	}
}

// Write renders a config to configPath as TOML under the top-level shuttle
// key. Used by `shuttle config init` to seed a starter file.
func Write(configPath string, config *ProjectConfig) error {
	doc := map[string]*ProjectConfig{"shuttle": config}
	data, err := toml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil { //nolint:gosec // Project config, not a secret
		return fmt.Errorf("failed to write %s: %w", configPath, err)
	}
	return nil
}

// Starter returns the config written by `shuttle config init`.
func Starter(endpoint string) *ProjectConfig {
	cfg := &ProjectConfig{
		Endpoint: EndpointConfig{URL: endpoint},
	}
	applyDefaults(cfg)
	return cfg
}
