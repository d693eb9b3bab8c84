package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load configuration from environment variables and optionally config files.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Optional config file; environment variables still win.
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/atelier")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// ATELIER_SERVER_PORT maps to server.port, and so on.
	v.SetEnvPrefix("ATELIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	// Viper only surfaces automatic env vars for keys it already knows
	// about, so keys without a meaningful default still get registered.
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 25)

	v.SetDefault("notify.url", "")
	v.SetDefault("notify.exchange", "atelier.notifications")

	v.SetDefault("relay.message_limit", 60)
	v.SetDefault("relay.message_window", time.Minute)

	v.SetDefault("quota.renders_per_window", 20)
	v.SetDefault("quota.documents_per_window", 10)
	v.SetDefault("quota.window", time.Hour)

	v.SetDefault("blob.dir", "./artifacts")
	v.SetDefault("blob.base_url", "http://localhost:8080/artifacts")

	v.SetDefault("maintenance.dead_letter_retention", 7*24*time.Hour)
	v.SetDefault("maintenance.stuck_render_age", 30*time.Minute)
	v.SetDefault("maintenance.sweep_schedule", "@every 10m")

	v.SetDefault("worker.poll_interval", 250*time.Millisecond)
}
