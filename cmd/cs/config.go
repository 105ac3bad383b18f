package main

import (
	"fmt"

	"github.com/zulandar/callsheet/internal/config"
)

// loadConfig reads .env next to the working directory, then the YAML
// config at path.
func loadConfig(path, envFile string) (*config.Config, error) {
	if err := config.LoadEnvFile(envFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
