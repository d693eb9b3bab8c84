package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server      ServerConfig      `mapstructure:"server" validate:"required"`
	Database    DatabaseConfig    `mapstructure:"database" validate:"required"`
	Relay       RelayConfig       `mapstructure:"relay" validate:"required"`
	Quota       QuotaConfig       `mapstructure:"quota" validate:"required"`
	Blob        BlobConfig        `mapstructure:"blob" validate:"required"`
	Notify      NotifyConfig      `mapstructure:"notify"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance" validate:"required"`
	Worker      WorkerConfig      `mapstructure:"worker"`
}

// ServerConfig contains all HTTP server related settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	LogFormat       string        `mapstructure:"log_format" validate:"required,oneof=json console"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required"`
}

// DatabaseConfig contains all database related settings.
type DatabaseConfig struct {
	URL          string `mapstructure:"url" validate:"required"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gte=0"`
}

// RelayConfig controls the websocket event relay and the per-connection
// inbound message rate limit.
type RelayConfig struct {
	MessageLimit  int           `mapstructure:"message_limit" validate:"required,gt=0"`
	MessageWindow time.Duration `mapstructure:"message_window" validate:"required"`
}

// QuotaConfig caps how much generation work a single session may request
// within the rolling window.
type QuotaConfig struct {
	RendersPerWindow   int           `mapstructure:"renders_per_window" validate:"required,gt=0"`
	DocumentsPerWindow int           `mapstructure:"documents_per_window" validate:"required,gt=0"`
	Window             time.Duration `mapstructure:"window" validate:"required"`
}

// BlobConfig configures artifact storage.
type BlobConfig struct {
	Dir     string `mapstructure:"dir" validate:"required"`
	BaseURL string `mapstructure:"base_url" validate:"required,url"`
}

// NotifyConfig configures the AMQP notification publisher. An empty URL
// disables outbound notifications.
type NotifyConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

// MaintenanceConfig configures the background sweep jobs.
type MaintenanceConfig struct {
	DeadLetterRetention time.Duration `mapstructure:"dead_letter_retention" validate:"required"`
	StuckRenderAge      time.Duration `mapstructure:"stuck_render_age" validate:"required"`
	SweepSchedule       string        `mapstructure:"sweep_schedule" validate:"required"`
}

// WorkerConfig allows deploy-time tuning of individual worker pools on top
// of the built-in profiles. Keys are job type names.
type WorkerConfig struct {
	PollInterval time.Duration             `mapstructure:"poll_interval"`
	Overrides    map[string]WorkerOverride `mapstructure:"overrides"`
}

// WorkerOverride adjusts a single pool. Zero fields leave the profile value
// unchanged.
type WorkerOverride struct {
	Concurrency int `mapstructure:"concurrency" validate:"gte=0"`
	Attempts    int `mapstructure:"attempts" validate:"gte=0"`
}
