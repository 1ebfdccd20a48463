package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from environment variables and an optional
// config.yaml in the working directory. Environment variables take
// precedence over file values and use the HRDB_ prefix with underscores
// for nesting (e.g. HRDB_SERVER_PORT, HRDB_LLM_GEMINI_API_KEY).
// Returns a populated Config or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("HRDB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; env vars alone may be complete.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("llm.model_name", "gemini-2.0-flash")
	v.SetDefault("llm.timeout_seconds", 60)
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("llm.retry_delay_seconds", 2)

	v.SetDefault("tasks.poll_interval_seconds", 60)
	v.SetDefault("tasks.batch_concurrency", 3)
	v.SetDefault("tasks.daily_run_at", "03:00")
	v.SetDefault("tasks.timezone", "Asia/Shanghai")
	v.SetDefault("tasks.parse_stuck_after_minutes", 10)
	v.SetDefault("tasks.generation_stuck_after_minutes", 5)
	v.SetDefault("tasks.match_stuck_after_minutes", 30)
	v.SetDefault("tasks.cleanup_stuck_after_minutes", 5)
	v.SetDefault("tasks.progress_ttl_minutes", 30)

	v.SetDefault("storage.dir", "data/blobs")
}
