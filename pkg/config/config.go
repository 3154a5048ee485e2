// Package config defines the service configuration, loaded from an optional
// YAML file with environment variables taking precedence, the way the
// enumerated deployment knobs (MODEL_NAME, API_KEY, MAX_BATCH_SIZE, ...) are
// actually set.
package config

import (
	"fmt"
	"time"
)

// Config is the full service configuration. It is loaded once at startup
// and injected explicitly; nothing reads it as ambient global state.
type Config struct {
	Model   ModelConfig   `yaml:"model"`
	Server  ServerConfig  `yaml:"server"`
	Auth    AuthConfig    `yaml:"auth"`
	Limits  LimitsConfig  `yaml:"limits"`
	Audit   AuditConfig   `yaml:"audit"`
	Logging LoggingConfig `yaml:"logging"`
}

// ModelConfig identifies the served model.
type ModelConfig struct {
	Name      string `yaml:"name"`
	Version   string `yaml:"version"`
	URI       string `yaml:"uri"`
	Framework string `yaml:"framework"`
}

// ServerConfig holds the HTTP server knobs.
type ServerConfig struct {
	ListenAddress   string        `yaml:"listen_address"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes"`

	// PredictTimeout bounds one backend call; zero disables the deadline.
	PredictTimeout time.Duration `yaml:"predict_timeout"`
}

// AuthConfig holds the shared-secret credential. An empty key is the
// explicit open-mode state: no request is ever rejected for auth.
type AuthConfig struct {
	APIKey string `yaml:"api_key"`
}

// LimitsConfig bounds accepted batches.
type LimitsConfig struct {
	MaxBatchSize int `yaml:"max_batch_size"`
	MaxFeatures  int `yaml:"max_features"`
}

// AuditConfig controls the audit trail.
type AuditConfig struct {
	Enabled bool `yaml:"enabled"`

	// DBPath enables the sqlite sink when non-empty.
	DBPath string `yaml:"db_path"`

	// RetentionDays and PruneSchedule control sink pruning; an empty
	// schedule disables it.
	RetentionDays int    `yaml:"retention_days"`
	PruneSchedule string `yaml:"prune_schedule"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// ApplyDefaults fills unset fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Model.Name == "" {
		cfg.Model.Name = "unknown"
	}
	if cfg.Model.Version == "" {
		cfg.Model.Version = "unknown"
	}
	if cfg.Model.Framework == "" {
		cfg.Model.Framework = "demo"
	}
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 120 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Server.MaxHeaderBytes == 0 {
		cfg.Server.MaxHeaderBytes = 1 << 20
	}
	if cfg.Limits.MaxBatchSize == 0 {
		cfg.Limits.MaxBatchSize = 100
	}
	if cfg.Limits.MaxFeatures == 0 {
		cfg.Limits.MaxFeatures = 1000
	}
	if cfg.Audit.RetentionDays == 0 {
		cfg.Audit.RetentionDays = 30
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// Validate rejects configurations the server cannot run with.
func Validate(cfg *Config) error {
	if cfg.Limits.MaxBatchSize < 1 {
		return fmt.Errorf("limits: max_batch_size must be positive, got %d", cfg.Limits.MaxBatchSize)
	}
	if cfg.Limits.MaxFeatures < 1 {
		return fmt.Errorf("limits: max_features must be positive, got %d", cfg.Limits.MaxFeatures)
	}
	if cfg.Server.ListenAddress == "" {
		return fmt.Errorf("server: listen_address must not be empty")
	}
	if cfg.Audit.RetentionDays < 1 {
		return fmt.Errorf("audit: retention_days must be positive, got %d", cfg.Audit.RetentionDays)
	}
	if cfg.Server.PredictTimeout < 0 {
		return fmt.Errorf("server: predict_timeout must not be negative")
	}
	return nil
}
