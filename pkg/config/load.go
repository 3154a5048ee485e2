package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Default returns a configuration with every default applied and no file or
// environment input.
func Default() *Config {
	cfg := &Config{Audit: AuditConfig{Enabled: true}}
	ApplyDefaults(cfg)
	return cfg
}

// Load builds the configuration. The sequence is:
//
//  1. start from defaults (audit enabled)
//  2. layer the YAML file at path, when path is non-empty
//  3. layer environment variable overrides
//  4. validate
//
// Environment always wins over the file, matching how the service is
// configured in deployment manifests.
func Load(path string) (*Config, error) {
	cfg := &Config{Audit: AuditConfig{Enabled: true}}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
		}
	}

	ApplyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides layers the enumerated environment knobs over cfg.
func applyEnvOverrides(cfg *Config) {
	setString := func(key string, dst *string) {
		if val := os.Getenv(key); val != "" {
			*dst = val
		}
	}
	setInt := func(key string, dst *int) {
		if val := os.Getenv(key); val != "" {
			if i, err := strconv.Atoi(val); err == nil {
				*dst = i
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if val := os.Getenv(key); val != "" {
			if b, err := strconv.ParseBool(val); err == nil {
				*dst = b
			}
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if val := os.Getenv(key); val != "" {
			if d, err := time.ParseDuration(val); err == nil {
				*dst = d
			}
		}
	}

	setString("MODEL_NAME", &cfg.Model.Name)
	setString("MODEL_VERSION", &cfg.Model.Version)
	setString("MODEL_URI", &cfg.Model.URI)
	setString("MODEL_FRAMEWORK", &cfg.Model.Framework)

	setString("LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	setDuration("READ_TIMEOUT", &cfg.Server.ReadTimeout)
	setDuration("WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	setDuration("IDLE_TIMEOUT", &cfg.Server.IdleTimeout)
	setDuration("SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	setDuration("PREDICT_TIMEOUT", &cfg.Server.PredictTimeout)

	// API_KEY is special-cased: an explicitly set empty value still means
	// open mode, so the plain empty-check is correct.
	setString("API_KEY", &cfg.Auth.APIKey)

	setInt("MAX_BATCH_SIZE", &cfg.Limits.MaxBatchSize)
	setInt("MAX_FEATURES", &cfg.Limits.MaxFeatures)

	setBool("ENABLE_AUDIT_LOG", &cfg.Audit.Enabled)
	setString("AUDIT_DB_PATH", &cfg.Audit.DBPath)
	setInt("AUDIT_RETENTION_DAYS", &cfg.Audit.RetentionDays)
	setString("AUDIT_PRUNE_SCHEDULE", &cfg.Audit.PruneSchedule)

	setString("LOG_LEVEL", &cfg.Logging.Level)
}
