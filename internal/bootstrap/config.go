// Package bootstrap wires the worker binary's infrastructure (config,
// database/redis connections, migrations) and the dequeue-loop lifecycle
// for the Run Handler, Dispatch Handler, and Reaper. It deliberately
// carries none of the teacher's HTTP/auth/admin surface — this spec has no
// user-facing API, so that wiring has no home here.
package bootstrap

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/target/mmk-ui-api/config"
)

// InitLogger initializes the structured logger.
func InitLogger() *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)
	return logger
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (config.AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return config.AppConfig{}, fmt.Errorf("load .env file: %w", err)
		}
	}

	var cfg config.AppConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	cfg.Sanitize()
	return cfg, nil
}

// ValidateServiceConfig validates that at least one service is enabled.
func ValidateServiceConfig(cfg *config.AppConfig) error {
	if cfg == nil {
		return errors.New("service config is required")
	}
	services, err := cfg.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("invalid service configuration: %w", err)
	}
	if len(services) == 0 {
		return errors.New("no services enabled")
	}
	return nil
}

// GetEnabledServices returns the enabled service names, for startup logging.
func GetEnabledServices(cfg *config.AppConfig) []string {
	if cfg == nil {
		return []string{}
	}
	services, err := cfg.GetEnabledServices()
	if err != nil {
		return []string{}
	}

	names := make([]string, 0, len(services))
	for svc := range services {
		switch svc {
		case config.ServiceModeRunHandler:
			names = append(names, "run-handler")
		case config.ServiceModeDispatchHandler:
			names = append(names, "dispatch-handler")
		case config.ServiceModeReaper:
			names = append(names, "reaper")
		}
	}
	return names
}
