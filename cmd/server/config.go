package main

import (
	"fmt"

	"github.com/phrazzld/tunesmith-api/internal/config"
)

// loadAppConfig loads configuration from the environment and, when path is
// set, from a YAML file underneath it.
func loadAppConfig(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadWithFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}
