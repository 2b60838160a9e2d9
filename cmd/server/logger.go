package main

import (
	"fmt"
	"log/slog"

	"github.com/phrazzld/tunesmith-api/internal/config"
	"github.com/phrazzld/tunesmith-api/internal/platform/logger"
)

// setupAppLogger configures the process-wide JSON logger and logs a summary
// of the loaded configuration. Secrets are reported only as present or not.
func setupAppLogger(cfg *config.Config) (*slog.Logger, error) {
	l, err := logger.Setup(cfg.Server)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	l.Info("server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"max_concurrent", cfg.Jobs.MaxConcurrent,
		"worker_count", cfg.Jobs.WorkerCount)
	l.Debug("provider configuration",
		"base_url", cfg.Provider.BaseURL,
		"api_key_present", cfg.Provider.APIKey != "")

	return l, nil
}
