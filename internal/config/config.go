// Package config loads the service configuration from an optional JSON
// file, overlays HOOKRELAY_-prefixed environment variables and fills in
// defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"hookrelay/internal/constants"
	"hookrelay/internal/models"
)

const envPrefix = "HOOKRELAY_"

// Load reads the configuration file at path (missing file is fine, the
// defaults stand in), then applies environment overrides and validates.
func Load(path string) (*models.Config, error) {
	// A local .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: envPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *models.Config {
	return &models.Config{
		LogLevel: "info",
		Server: models.ServerConfig{
			Port:               constants.DefaultServerPort,
			ReadTimeoutSec:     constants.DefaultServerReadTimeoutSec,
			WriteTimeoutSec:    constants.DefaultServerWriteTimeoutSec,
			IdleTimeoutSec:     constants.DefaultServerIdleTimeoutSec,
			IngestRatePerMin:   constants.DefaultIngestRatePerMinute,
			GracefulTimeoutSec: constants.DefaultGracefulShutdownSec,
		},
		Database: models.DatabaseConfig{
			Driver: "sqlite",
			Path:   "hookrelay.db",
		},
		Queue: models.QueueConfig{
			PollIntervalSec: constants.DefaultPollIntervalSec,
			Concurrency:     constants.DefaultConcurrency,
			JobTimeoutSec:   constants.DefaultJobTimeoutSec,
			MaxAttempts:     constants.DefaultMaxAttempts,
		},
		Retry: models.RetryConfig{
			InitialBackoffMs: constants.DefaultRetryBackoffMs,
			MaxBackoffMs:     constants.DefaultMaxBackoffMs,
		},
		Cleanup: models.CleanupConfig{
			RetentionDays: constants.DefaultCleanupDays,
			IntervalHours: constants.DefaultCleanupEveryHrs,
		},
		Tracing: models.TracingConfig{
			SampleRate:  1.0,
			Environment: "development",
		},
		Senders: models.SendersConfig{
			TimeoutSec:             constants.DefaultSendTimeoutSec,
			BreakerMaxFailures:     constants.DefaultBreakerMaxFailures,
			BreakerResetTimeoutSec: constants.DefaultBreakerResetTimeoutSec,
		},
	}
}

// Validate checks configuration invariants that would otherwise surface
// as confusing runtime failures.
func Validate(cfg *models.Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return models.ConfigError{Message: fmt.Sprintf("invalid server port: %d", cfg.Server.Port)}
	}

	driver := strings.ToLower(cfg.Database.Driver)
	switch driver {
	case "", "sqlite":
		if cfg.Database.Path == "" {
			return models.ConfigError{Message: "database path is required for sqlite"}
		}
	case "redis":
		if cfg.Database.RedisAddr == "" {
			return models.ConfigError{Message: "redis address is required for the redis job store"}
		}
		if cfg.Database.Path == "" {
			return models.ConfigError{Message: "database path is required; alerts are always stored in sqlite"}
		}
	default:
		return models.ConfigError{Message: fmt.Sprintf("unsupported database driver: %s", cfg.Database.Driver)}
	}

	if cfg.Queue.PollIntervalSec <= 0 {
		return models.ConfigError{Message: "queue poll interval must be positive"}
	}
	if cfg.Queue.Concurrency <= 0 {
		return models.ConfigError{Message: "queue concurrency must be positive"}
	}
	if cfg.Queue.MaxAttempts <= 0 {
		return models.ConfigError{Message: "queue max attempts must be positive"}
	}
	if cfg.Retry.InitialBackoffMs <= 0 || cfg.Retry.MaxBackoffMs < cfg.Retry.InitialBackoffMs {
		return models.ConfigError{Message: "retry backoff bounds are invalid"}
	}
	if cfg.Cleanup.RetentionDays <= 0 {
		return models.ConfigError{Message: "cleanup retention days must be positive"}
	}
	if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
		return models.ConfigError{Message: "tracing sample rate must be between 0 and 1"}
	}
	return nil
}
