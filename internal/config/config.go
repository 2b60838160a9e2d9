package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Provider ProviderConfig `mapstructure:"provider" validate:"required"`
	Polling  PollingConfig  `mapstructure:"polling" validate:"required"`
	Jobs     JobsConfig     `mapstructure:"jobs" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL          string `mapstructure:"url" validate:"required,url"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gte=1"`
}

// ProviderConfig describes the external generation provider.
type ProviderConfig struct {
	BaseURL string        `mapstructure:"base_url" validate:"required,url"`
	APIKey  string        `mapstructure:"api_key" validate:"required"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
	// StartRetries is the number of extra attempts for a start request that
	// failed transiently.
	StartRetries int `mapstructure:"start_retries" validate:"gte=0,lte=10"`
}

// PollingConfig controls the adaptive status polling of in-flight jobs.
// The short interval is used until ShortPhase has elapsed since submission,
// the medium interval until MediumPhase, and the long interval afterwards.
type PollingConfig struct {
	ShortInterval  time.Duration `mapstructure:"short_interval" validate:"gt=0"`
	MediumInterval time.Duration `mapstructure:"medium_interval" validate:"gtefield=ShortInterval"`
	LongInterval   time.Duration `mapstructure:"long_interval" validate:"gtefield=MediumInterval"`
	ShortPhase     time.Duration `mapstructure:"short_phase" validate:"gte=0"`
	MediumPhase    time.Duration `mapstructure:"medium_phase" validate:"gtefield=ShortPhase"`

	MaxAttempts          int `mapstructure:"max_attempts" validate:"gte=1"`
	MaxConsecutiveErrors int `mapstructure:"max_consecutive_errors" validate:"gte=1"`
}

// JobsConfig contains admission control and worker settings.
type JobsConfig struct {
	// MaxConcurrent is the slot capacity: the number of jobs allowed in flight
	// at the provider at once. Changing it requires a restart.
	MaxConcurrent int           `mapstructure:"max_concurrent" validate:"gte=1"`
	SlotTimeout   time.Duration `mapstructure:"slot_timeout" validate:"gt=0"`
	// WorkerCount must cover every slot, otherwise admitted jobs would queue
	// while holding a slot.
	WorkerCount int `mapstructure:"worker_count" validate:"gtefield=MaxConcurrent"`

	MinChoices int `mapstructure:"min_choices" validate:"gte=1,lte=3"`
	MaxChoices int `mapstructure:"max_choices" validate:"gtefield=MinChoices,lte=3"`

	RecoveryInterval time.Duration `mapstructure:"recovery_interval" validate:"gt=0"`
	StaleAfter       time.Duration `mapstructure:"stale_after" validate:"gte=0"`
}
