package config

import (
	"fmt"
	"os"
)

// Environment represents the shuttle environment
type Environment string

const (
	EnvProd  Environment = "prod"
	EnvDev   Environment = "dev"
	EnvLocal Environment = "local"
)

// EnvConfig holds environment-specific URLs and settings
type EnvConfig struct {
	DefaultEndpoint string
	SocketEndpoint  string
}

// GetEnvironment returns the current environment from SHUTTLE_ENV
func GetEnvironment() Environment {
	env := os.Getenv("SHUTTLE_ENV")
	if env == "" {
		return EnvProd
	}

	switch Environment(env) {
	case EnvProd, EnvDev, EnvLocal:
		return Environment(env)
	default:
		return EnvProd
	}
}

// GetEnvConfig returns the configuration for the specified environment
func GetEnvConfig(env Environment) (*EnvConfig, error) {
	switch env {
	case EnvProd:
		return &EnvConfig{
			DefaultEndpoint: getEnvOrDefault("SHUTTLE_ENDPOINT", "https://transfer.shuttlefile.dev"),
			SocketEndpoint:  getEnvOrDefault("SHUTTLE_SOCKET_ENDPOINT", "wss://transfer.shuttlefile.dev"),
		}, nil
	case EnvDev:
		return &EnvConfig{
			DefaultEndpoint: getEnvOrDefault("SHUTTLE_ENDPOINT", "https://dev-transfer.shuttlefile.dev"),
			SocketEndpoint:  getEnvOrDefault("SHUTTLE_SOCKET_ENDPOINT", "wss://dev-transfer.shuttlefile.dev"),
		}, nil
	case EnvLocal:
		return &EnvConfig{
			DefaultEndpoint: getEnvOrDefault("SHUTTLE_ENDPOINT", "http://localhost:4400"),
			SocketEndpoint:  getEnvOrDefault("SHUTTLE_SOCKET_ENDPOINT", "ws://localhost:4400"),
		}, nil
	default:
		return nil, fmt.Errorf("invalid environment: %s", env)
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}
