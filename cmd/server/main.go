// Package main implements the entry point for the Atelier API server,
// which runs the design session HTTP API, the realtime relay, and the
// background job pipeline for AI staging work.
package main

import (
	"log"
	"log/slog"

	"github.com/lucidspace/atelier-api/internal/config"
	"github.com/lucidspace/atelier-api/internal/platform/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger := logger.Setup(cfg.Server.LogLevel, cfg.Server.LogFormat)
	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"log_format", cfg.Server.LogFormat)

	app, err := newApplication(cfg, appLogger)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	if err := app.run(); err != nil {
		log.Fatalf("Application exited with error: %v", err)
	}
}
