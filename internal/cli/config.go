package cli

import (
	"fmt"

	"github.com/Anvoria/keyrelay/internal/config"
)

// LoadConfig loads the environment and the YAML config it points to.
// A non-empty path overrides CONFIG_PATH.
func LoadConfig(path string) (*config.Config, *config.Environment, error) {
	env := config.LoadEnv()
	if path == "" {
		path = env.ConfigPath
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg.ApplyEnv(env)
	if err := cfg.Validate(env.Environment); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, env, nil
}
