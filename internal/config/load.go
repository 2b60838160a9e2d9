package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable read by Load.
const EnvPrefix = "TUNESMITH"

// Load configuration from environment variables and optionally a config.yaml
// in the working directory. Environment variables take precedence over values
// from config files.
func Load() (*Config, error) {
	return LoadWithFile("")
}

// LoadWithFile behaves like Load but reads the given config file instead of
// searching the working directory. An empty path falls back to the search.
func LoadWithFile(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && configPath != "" {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Keys without defaults are unknown to viper until bound explicitly.
	for _, key := range []string{"database.url", "provider.base_url", "provider.api_key"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("error binding environment variable for %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the struct tags on cfg.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.max_open_conns", 10)

	v.SetDefault("provider.timeout", 30*time.Second)
	v.SetDefault("provider.start_retries", 2)

	v.SetDefault("polling.short_interval", 5*time.Second)
	v.SetDefault("polling.medium_interval", 10*time.Second)
	v.SetDefault("polling.long_interval", 20*time.Second)
	v.SetDefault("polling.short_phase", time.Minute)
	v.SetDefault("polling.medium_phase", 3*time.Minute)
	v.SetDefault("polling.max_attempts", 60)
	v.SetDefault("polling.max_consecutive_errors", 5)

	v.SetDefault("jobs.max_concurrent", 4)
	v.SetDefault("jobs.slot_timeout", 10*time.Second)
	v.SetDefault("jobs.worker_count", 4)
	v.SetDefault("jobs.min_choices", 1)
	v.SetDefault("jobs.max_choices", 3)
	v.SetDefault("jobs.recovery_interval", 5*time.Minute)
	v.SetDefault("jobs.stale_after", 2*time.Minute)
}
