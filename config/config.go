package config

import (
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	Env      string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`
	Port     string `env:"PORT" envDefault:"8080" validate:"required"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`

	// Capacity admission
	TotalCapacityUnits int `env:"TOTAL_CAPACITY_UNITS" envDefault:"100" validate:"min=1,max=100000"`
	ReserveUnits       int `env:"RESERVE_UNITS" envDefault:"0" validate:"min=0"`

	// Leases
	LeaseTTLSec       int `env:"LEASE_TTL_S" envDefault:"30" validate:"min=1,max=3600"`
	HeartbeatGraceSec int `env:"HEARTBEAT_GRACE_S" envDefault:"5" validate:"min=0,max=600"`
	ReaperIntervalSec int `env:"REAPER_INTERVAL_S" envDefault:"1" validate:"min=1,max=60"`
	RetryBaseMs       int `env:"RETRY_BASE_MS" envDefault:"375" validate:"min=1"`

	// Health sampling
	SamplerIntervalSec int `env:"SAMPLER_INTERVAL_S" envDefault:"5" validate:"min=1,max=300"`
	APIWindowSec       int `env:"API_WINDOW_S" envDefault:"60" validate:"min=5,max=3600"`

	// Retention
	HistoryRetentionDays int `env:"HISTORY_RETENTION_DAYS" envDefault:"30" validate:"min=1,max=365"`
	MinuteRetentionHours int `env:"MINUTE_RETENTION_HOURS" envDefault:"24" validate:"min=1,max=720"`

	// Terminal jobs kept in memory before the history store becomes the
	// only copy.
	TerminalRetentionSec int `env:"TERMINAL_RETENTION_S" envDefault:"3600" validate:"min=1"`
	TerminalRetentionCap int `env:"TERMINAL_RETENTION_CAP" envDefault:"5000" validate:"min=1"`

	// Durable files. Both are opened with WAL journaling.
	StatsDBPath   string `env:"STATS_DB_PATH" envDefault:"data/system_stats.sqlite3" validate:"required"`
	HistoryDBPath string `env:"HISTORY_DB_PATH" envDefault:"data/scheduler_history.sqlite3" validate:"required"`

	// Request paths the API-metrics window ignores.
	ExcludedAPIPaths []string `env:"EXCLUDED_API_PATHS" envSeparator:"," envDefault:"/system/stats,/metrics,/healthz,/readyz,/docs"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
