package config

import (
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// EnvironmentType represents the application environment
type EnvironmentType string

const (
	EnvironmentDevelopment EnvironmentType = "development"
	EnvironmentProduction  EnvironmentType = "production"
)

// String returns the string representation of the environment type
func (e EnvironmentType) String() string {
	return string(e)
}

// IsValid checks if the environment type is valid
func (e EnvironmentType) IsValid() bool {
	switch e {
	case EnvironmentDevelopment, EnvironmentProduction:
		return true
	default:
		return false
	}
}

// Environment holds the environment variables
type Environment struct {
	Environment      EnvironmentType `env:"ENVIRONMENT"`
	ConfigPath       string          `env:"CONFIG_PATH"`
	DatabasePassword string          `env:"DATABASE_PASSWORD"`
	RedisPassword    string          `env:"REDIS_PASSWORD"`
	RPCURL           string          `env:"SOLANA_RPC_URL"`
	ProgramID        string          `env:"PROGRAM_ID"`
}

// LoadEnv loads .env files (if any) and then the environment variables
func LoadEnv(files ...string) *Environment {
	if err := godotenv.Load(files...); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	envStr := strings.ToLower(strings.TrimSpace(getEnv("ENVIRONMENT", string(EnvironmentDevelopment))))
	envType := EnvironmentType(envStr)

	// Validate and default to development if invalid
	if !envType.IsValid() {
		envType = EnvironmentDevelopment
	}

	return &Environment{
		Environment:      envType,
		ConfigPath:       getEnv("CONFIG_PATH", "config.yaml"),
		DatabasePassword: getEnv("DATABASE_PASSWORD", ""),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RPCURL:           getEnv("SOLANA_RPC_URL", ""),
		ProgramID:        getEnv("PROGRAM_ID", ""),
	}
}

// getEnv gets the environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return defaultValue
}
