package config

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"   validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	LLM      LLMConfig      `mapstructure:"llm"      validate:"required"`
	Tasks    TasksConfig    `mapstructure:"tasks"    validate:"required"`
	Storage  StorageConfig  `mapstructure:"storage"  validate:"required"`
}

// ServerConfig contains all HTTP server related settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database related settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

// LLMConfig contains all LLM integration related settings.
type LLMConfig struct {
	GeminiAPIKey string `mapstructure:"gemini_api_key" validate:"required"`
	ModelName    string `mapstructure:"model_name"     validate:"required"`

	// TimeoutSeconds is the hard deadline applied to every single LLM
	// request. Exceeding it surfaces as an ordinary item failure.
	TimeoutSeconds    int `mapstructure:"timeout_seconds"     validate:"gte=1"`
	MaxRetries        int `mapstructure:"max_retries"         validate:"gte=0"`
	RetryDelaySeconds int `mapstructure:"retry_delay_seconds" validate:"gte=1"`
}

// TasksConfig contains the settings for the background task subsystem:
// poll cadence, per-kind staleness thresholds and the daily run cutoff.
type TasksConfig struct {
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds" validate:"gte=1"`

	// BatchConcurrency caps how many per-item operations (LLM calls) a
	// single task may have in flight at once.
	BatchConcurrency int `mapstructure:"batch_concurrency" validate:"gte=1"`

	// DailyRunAt is the wall-clock time ("HH:MM") in Timezone at which
	// non-immediate tasks become due.
	DailyRunAt string `mapstructure:"daily_run_at" validate:"required"`
	Timezone   string `mapstructure:"timezone"     validate:"required"`

	ParseStuckAfterMinutes      int `mapstructure:"parse_stuck_after_minutes"      validate:"gte=1"`
	GenerationStuckAfterMinutes int `mapstructure:"generation_stuck_after_minutes" validate:"gte=1"`
	MatchStuckAfterMinutes      int `mapstructure:"match_stuck_after_minutes"      validate:"gte=1"`

	// CleanupStuckAfterMinutes is the global threshold used by the
	// operator-invoked cleanup sweep, independent of the per-kind sweeps.
	CleanupStuckAfterMinutes int `mapstructure:"cleanup_stuck_after_minutes" validate:"gte=1"`

	// ProgressTTLMinutes is how long a terminal ephemeral progress entry
	// stays queryable before the delayed cleanup drops it.
	ProgressTTLMinutes int `mapstructure:"progress_ttl_minutes" validate:"gte=1"`
}

// StorageConfig contains the object storage settings. The store is an
// opaque byte-blob collaborator; only its location is configured here.
type StorageConfig struct {
	Dir string `mapstructure:"dir" validate:"required"`
}
