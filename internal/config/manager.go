package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// viperConfigManager implements ConfigManager using Viper.
type viperConfigManager struct {
	configPath string
	config     *Config
	viper      *viper.Viper
	watchChan  chan Config
}

// Load loads configuration from all sources.
func (m *viperConfigManager) Load(ctx context.Context) error {
	m.viper = viper.New()

	m.viper.SetConfigFile(m.configPath)
	m.viper.SetConfigType("yaml")

	m.viper.SetEnvPrefix("FLEETSIGHT")
	m.viper.AutomaticEnv()
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	m.setDefaults()

	// Try to read config file (optional)
	if err := m.viper.ReadInConfig(); err != nil {
		// Missing config file is fine, defaults plus env vars carry the run
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		} else if os.IsNotExist(err) {
		} else {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.applyEnvOverrides()

	return nil
}

// Get returns the current configuration.
func (m *viperConfigManager) Get(ctx context.Context) *Config {
	return m.config
}

// Validate validates configuration is correct and complete.
func (m *viperConfigManager) Validate(ctx context.Context) error {
	errs := m.config.Validate()
	if len(errs) > 0 {
		var errMsgs []string
		for _, err := range errs {
			errMsgs = append(errMsgs, err.Error())
		}
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errMsgs, "\n  - "))
	}
	return nil
}

// Watch watches for configuration changes and reloads.
func (m *viperConfigManager) Watch(ctx context.Context) <-chan Config {
	m.viper.WatchConfig()
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		if err := m.unmarshalConfig(); err != nil {
			return
		}
		select {
		case m.watchChan <- *m.config:
		default:
			// Channel full, skip this update
		}
	})

	return m.watchChan
}

// Reload reloads configuration from sources.
func (m *viperConfigManager) Reload(ctx context.Context) error {
	if err := m.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.applyEnvOverrides()

	return nil
}

// setDefaults sets default values in viper.
func (m *viperConfigManager) setDefaults() {
	defaults := DefaultConfig()

	// Server defaults
	m.viper.SetDefault("server.port", defaults.Server.Port)
	m.viper.SetDefault("server.tls_enabled", defaults.Server.TLSEnabled)
	m.viper.SetDefault("server.tls_cert_path", defaults.Server.TLSCertPath)
	m.viper.SetDefault("server.tls_key_path", defaults.Server.TLSKeyPath)
	m.viper.SetDefault("server.allowed_origins", defaults.Server.AllowedOrigins)
	m.viper.SetDefault("server.rate_limit_per_minute", defaults.Server.RateLimitPerMinute)

	// Database defaults
	m.viper.SetDefault("database.path", defaults.Database.Path)

	// Detector defaults
	m.viper.SetDefault("detector.trees", defaults.Detector.Trees)
	m.viper.SetDefault("detector.sub_sample_size", defaults.Detector.SubSampleSize)
	m.viper.SetDefault("detector.contamination", defaults.Detector.Contamination)
	m.viper.SetDefault("detector.seed", defaults.Detector.Seed)
	m.viper.SetDefault("detector.workers", defaults.Detector.Workers)

	// Changepoint defaults
	m.viper.SetDefault("changepoint.penalty", defaults.Changepoint.Penalty)
	m.viper.SetDefault("changepoint.min_segment_length", defaults.Changepoint.MinSegmentLength)

	// Report defaults
	m.viper.SetDefault("report.verbose", defaults.Report.Verbose)
	m.viper.SetDefault("report.output_dir", defaults.Report.OutputDir)
	m.viper.SetDefault("report.write_plot_data", defaults.Report.WritePlotData)

	// Logging defaults
	m.viper.SetDefault("logging.level", defaults.Logging.Level)
	m.viper.SetDefault("logging.format", defaults.Logging.Format)
	m.viper.SetDefault("logging.app_log_path", defaults.Logging.AppLogPath)
	m.viper.SetDefault("logging.audit_log_path", defaults.Logging.AuditLogPath)
}

// unmarshalConfig unmarshals viper config into Config struct.
func (m *viperConfigManager) unmarshalConfig() error {
	cfg := &Config{}

	// Server
	cfg.Server.Port = m.viper.GetInt("server.port")
	cfg.Server.TLSEnabled = m.viper.GetBool("server.tls_enabled")
	cfg.Server.TLSCertPath = m.viper.GetString("server.tls_cert_path")
	cfg.Server.TLSKeyPath = m.viper.GetString("server.tls_key_path")
	cfg.Server.AllowedOrigins = m.viper.GetStringSlice("server.allowed_origins")
	cfg.Server.RateLimitPerMinute = m.viper.GetInt("server.rate_limit_per_minute")

	// Database
	cfg.Database.Path = m.viper.GetString("database.path")

	// Detector
	cfg.Detector.Trees = m.viper.GetInt("detector.trees")
	cfg.Detector.SubSampleSize = m.viper.GetInt("detector.sub_sample_size")
	cfg.Detector.Contamination = m.viper.GetFloat64("detector.contamination")
	cfg.Detector.Seed = m.viper.GetInt64("detector.seed")
	cfg.Detector.Workers = m.viper.GetInt("detector.workers")

	// Changepoint
	cfg.Changepoint.Penalty = m.viper.GetFloat64("changepoint.penalty")
	cfg.Changepoint.MinSegmentLength = m.viper.GetInt("changepoint.min_segment_length")

	// Report
	cfg.Report.Verbose = m.viper.GetBool("report.verbose")
	cfg.Report.OutputDir = m.viper.GetString("report.output_dir")
	cfg.Report.WritePlotData = m.viper.GetBool("report.write_plot_data")

	// Logging
	cfg.Logging.Level = m.viper.GetString("logging.level")
	cfg.Logging.Format = m.viper.GetString("logging.format")
	cfg.Logging.AppLogPath = m.viper.GetString("logging.app_log_path")
	cfg.Logging.AuditLogPath = m.viper.GetString("logging.audit_log_path")

	m.config = cfg
	return nil
}

// applyEnvOverrides applies environment variable overrides that do not fit
// the viper key mapping.
func (m *viperConfigManager) applyEnvOverrides() {
	// Database path from environment
	if path := os.Getenv("FLEETSIGHT_DB_PATH"); path != "" {
		m.config.Database.Path = path
	}

	// Port from environment - only override if explicitly set
	if portEnv := os.Getenv("FLEETSIGHT_PORT"); portEnv != "" {
		m.config.Server.Port = m.viper.GetInt("port")
	}
}
