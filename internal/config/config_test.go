package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// Test server defaults
	assert.Equal(t, 8081, cfg.Server.Port)
	assert.False(t, cfg.Server.TLSEnabled)
	assert.Equal(t, 60, cfg.Server.RateLimitPerMinute)

	// Test database defaults
	assert.NotEmpty(t, cfg.Database.Path)

	// Test detector defaults
	assert.Equal(t, 100, cfg.Detector.Trees)
	assert.Equal(t, 256, cfg.Detector.SubSampleSize)
	assert.Equal(t, 0.15, cfg.Detector.Contamination)
	assert.Equal(t, int64(42), cfg.Detector.Seed)

	// Test changepoint defaults
	assert.Equal(t, 1000.0, cfg.Changepoint.Penalty)
	assert.Equal(t, 2, cfg.Changepoint.MinSegmentLength)

	// Test report defaults
	assert.True(t, cfg.Report.Verbose)
	assert.Equal(t, "artifacts", cfg.Report.OutputDir)

	// Test logging defaults
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name      string
		modifyFn  func(*Config)
		wantError bool
		errorMsg  string
	}{
		{
			name:      "valid default config",
			modifyFn:  func(cfg *Config) {},
			wantError: false,
		},
		{
			name: "invalid port - too low",
			modifyFn: func(cfg *Config) {
				cfg.Server.Port = 0
			},
			wantError: true,
			errorMsg:  "port must be between 1 and 65535",
		},
		{
			name: "invalid port - too high",
			modifyFn: func(cfg *Config) {
				cfg.Server.Port = 70000
			},
			wantError: true,
			errorMsg:  "port must be between 1 and 65535",
		},
		{
			name: "negative rate limit",
			modifyFn: func(cfg *Config) {
				cfg.Server.RateLimitPerMinute = -1
			},
			wantError: true,
			errorMsg:  "rate_limit_per_minute cannot be negative",
		},
		{
			name: "missing database path",
			modifyFn: func(cfg *Config) {
				cfg.Database.Path = ""
			},
			wantError: true,
			errorMsg:  "database path is required",
		},
		{
			name: "zero trees",
			modifyFn: func(cfg *Config) {
				cfg.Detector.Trees = 0
			},
			wantError: true,
			errorMsg:  "trees must be at least 1",
		},
		{
			name: "sub-sample too small",
			modifyFn: func(cfg *Config) {
				cfg.Detector.SubSampleSize = 1
			},
			wantError: true,
			errorMsg:  "sub_sample_size must be at least 2",
		},
		{
			name: "contamination zero",
			modifyFn: func(cfg *Config) {
				cfg.Detector.Contamination = 0
			},
			wantError: true,
			errorMsg:  "contamination must be in (0, 1)",
		},
		{
			name: "contamination one",
			modifyFn: func(cfg *Config) {
				cfg.Detector.Contamination = 1
			},
			wantError: true,
			errorMsg:  "contamination must be in (0, 1)",
		},
		{
			name: "negative workers",
			modifyFn: func(cfg *Config) {
				cfg.Detector.Workers = -1
			},
			wantError: true,
			errorMsg:  "workers cannot be negative",
		},
		{
			name: "negative penalty",
			modifyFn: func(cfg *Config) {
				cfg.Changepoint.Penalty = -5
			},
			wantError: true,
			errorMsg:  "penalty cannot be negative",
		},
		{
			name: "zero min segment length",
			modifyFn: func(cfg *Config) {
				cfg.Changepoint.MinSegmentLength = 0
			},
			wantError: true,
			errorMsg:  "min_segment_length must be at least 1",
		},
		{
			name: "plot data without output dir",
			modifyFn: func(cfg *Config) {
				cfg.Report.WritePlotData = true
				cfg.Report.OutputDir = ""
			},
			wantError: true,
			errorMsg:  "output_dir is required",
		},
		{
			name: "invalid log level",
			modifyFn: func(cfg *Config) {
				cfg.Logging.Level = "invalid"
			},
			wantError: true,
			errorMsg:  "invalid log level",
		},
		{
			name: "invalid log format",
			modifyFn: func(cfg *Config) {
				cfg.Logging.Format = "invalid"
			},
			wantError: true,
			errorMsg:  "invalid log format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modifyFn(cfg)

			errs := cfg.Validate()

			if tt.wantError {
				assert.NotEmpty(t, errs, "expected validation errors but got none")
				found := false
				for _, err := range errs {
					if strings.Contains(err.Error(), tt.errorMsg) {
						found = true
						break
					}
				}
				assert.True(t, found, "expected error message containing '%s', got: %v", tt.errorMsg, errs)
			} else {
				assert.Empty(t, errs, "expected no validation errors but got: %v", errs)
			}
		})
	}
}

func TestConfigManagerLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 9090

database:
  path: "/tmp/fleetsight-test.db"

detector:
  trees: 50
  contamination: 0.1
  seed: 7

report:
  verbose: false
  output_dir: "out"

logging:
  level: "debug"
  format: "text"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	mgr, err := NewConfigManager(configPath)
	require.NoError(t, err)

	ctx := context.Background()
	err = mgr.Load(ctx)
	require.NoError(t, err)

	cfg := mgr.Get(ctx)
	require.NotNil(t, cfg)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/tmp/fleetsight-test.db", cfg.Database.Path)
	assert.Equal(t, 50, cfg.Detector.Trees)
	assert.Equal(t, 0.1, cfg.Detector.Contamination)
	assert.Equal(t, int64(7), cfg.Detector.Seed)
	assert.False(t, cfg.Report.Verbose)
	assert.Equal(t, "out", cfg.Report.OutputDir)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)

	// Values absent from the file keep their defaults
	assert.Equal(t, 256, cfg.Detector.SubSampleSize)
	assert.Equal(t, 1000.0, cfg.Changepoint.Penalty)
}

func TestConfigManagerEnvironmentOverrides(t *testing.T) {
	os.Setenv("FLEETSIGHT_DB_PATH", "/tmp/env-override.db")
	os.Setenv("FLEETSIGHT_PORT", "7070")
	defer func() {
		os.Unsetenv("FLEETSIGHT_DB_PATH")
		os.Unsetenv("FLEETSIGHT_PORT")
	}()

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 8081

database:
  path: "/var/lib/fleetsight/fleetsight.db"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	mgr, err := NewConfigManager(configPath)
	require.NoError(t, err)

	ctx := context.Background()
	err = mgr.Load(ctx)
	require.NoError(t, err)

	cfg := mgr.Get(ctx)

	assert.Equal(t, 7070, cfg.Server.Port, "PORT should be overridden by environment variable")
	assert.Equal(t, "/tmp/env-override.db", cfg.Database.Path, "database path should be overridden by environment variable")
}

func TestConfigManagerMissingFile(t *testing.T) {
	configPath := "/tmp/nonexistent-config.yaml"

	mgr, err := NewConfigManager(configPath)
	require.NoError(t, err)

	ctx := context.Background()
	err = mgr.Load(ctx)
	// Should not error - should use defaults
	require.NoError(t, err)

	cfg := mgr.Get(ctx)
	assert.NotNil(t, cfg)
	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, 0.15, cfg.Detector.Contamination)
}

func TestConfigManagerValidation(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 99999

detector:
  contamination: 1.5

logging:
  level: "shouty"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	mgr, err := NewConfigManager(configPath)
	require.NoError(t, err)

	ctx := context.Background()
	err = mgr.Load(ctx)
	require.NoError(t, err)

	err = mgr.Validate(ctx)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")
}
