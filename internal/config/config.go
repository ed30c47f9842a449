package config

import "context"

// Package config provides configuration management for fleetsight.
//
// Responsibilities:
//   - Load configuration from YAML files and environment variables
//   - Validate configuration on startup
//   - Provide runtime access to all configuration
//   - Support configuration reloading for detector tuning
//   - Establish reasonable defaults
//
// Configuration Sources (priority order, high to low):
//   1. CLI flags (highest priority)
//   2. Environment variables (FLEETSIGHT_* prefix)
//   3. YAML config files (default: /etc/fleetsight/config.yaml)
//   4. Built-in defaults (lowest priority)
//
// Config struct contains all configuration fields
type Config struct {
	// Server configuration
	Server struct {
		Port        int
		TLSEnabled  bool
		TLSCertPath string
		TLSKeyPath  string
		// AllowedOrigins is a list of origins permitted to open WebSocket connections.
		// Use ["*"] to allow any origin (development only).
		// If empty, defaults to ["http://localhost:3000", "http://localhost:5173"].
		AllowedOrigins []string
		// RateLimitPerMinute caps run-trigger requests per client per minute.
		// 0 disables rate limiting.
		RateLimitPerMinute int
	}

	// Database configuration
	Database struct {
		Path string
	}

	// Detector configuration
	Detector struct {
		Trees         int
		SubSampleSize int
		Contamination float64
		Seed          int64
		Workers       int
	}

	// Changepoint configuration
	Changepoint struct {
		Penalty          float64
		MinSegmentLength int
	}

	// Report configuration
	Report struct {
		Verbose       bool
		OutputDir     string
		WritePlotData bool
	}

	// Logging configuration
	Logging struct {
		Level        string
		Format       string
		AppLogPath   string
		AuditLogPath string
	}
}

// ConfigManager defines the interface for configuration access.
type ConfigManager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch watches for configuration changes and reloads (if supported).
	Watch(ctx context.Context) <-chan Config

	// Reload reloads configuration from sources.
	Reload(ctx context.Context) error
}

// NewConfigManager creates a new configuration manager.
func NewConfigManager(configPath string) (ConfigManager, error) {
	mgr := &viperConfigManager{
		configPath: configPath,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}
	return mgr, nil
}

// NewConfigManagerWithDefaults creates a config manager with default config path.
func NewConfigManagerWithDefaults() (ConfigManager, error) {
	return NewConfigManager("/etc/fleetsight/config.yaml")
}
