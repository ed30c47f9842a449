package config

import (
	"fmt"
	"os"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate validates the configuration and returns validation errors.
func (c *Config) Validate() []error {
	var errs []error

	// Validate server configuration
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", c.Server.Port),
		})
	}

	if c.Server.TLSEnabled {
		if c.Server.TLSCertPath == "" {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_cert_path",
				Message: "tls_cert_path is required when tls_enabled is true",
			})
		} else if _, err := os.Stat(c.Server.TLSCertPath); os.IsNotExist(err) {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_cert_path",
				Message: fmt.Sprintf("certificate file does not exist: %s", c.Server.TLSCertPath),
			})
		}

		if c.Server.TLSKeyPath == "" {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_key_path",
				Message: "tls_key_path is required when tls_enabled is true",
			})
		} else if _, err := os.Stat(c.Server.TLSKeyPath); os.IsNotExist(err) {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_key_path",
				Message: fmt.Sprintf("key file does not exist: %s", c.Server.TLSKeyPath),
			})
		}
	}

	if c.Server.RateLimitPerMinute < 0 {
		errs = append(errs, &ValidationError{
			Field:   "server.rate_limit_per_minute",
			Message: fmt.Sprintf("rate_limit_per_minute cannot be negative, got %d", c.Server.RateLimitPerMinute),
		})
	}

	// Validate database configuration
	if c.Database.Path == "" {
		errs = append(errs, &ValidationError{
			Field:   "database.path",
			Message: "database path is required",
		})
	}

	// Validate detector configuration
	if c.Detector.Trees < 1 {
		errs = append(errs, &ValidationError{
			Field:   "detector.trees",
			Message: fmt.Sprintf("trees must be at least 1, got %d", c.Detector.Trees),
		})
	}

	if c.Detector.SubSampleSize < 2 {
		errs = append(errs, &ValidationError{
			Field:   "detector.sub_sample_size",
			Message: fmt.Sprintf("sub_sample_size must be at least 2, got %d", c.Detector.SubSampleSize),
		})
	}

	if c.Detector.Contamination <= 0 || c.Detector.Contamination >= 1 {
		errs = append(errs, &ValidationError{
			Field:   "detector.contamination",
			Message: fmt.Sprintf("contamination must be in (0, 1), got %g", c.Detector.Contamination),
		})
	}

	if c.Detector.Workers < 0 {
		errs = append(errs, &ValidationError{
			Field:   "detector.workers",
			Message: fmt.Sprintf("workers cannot be negative, got %d", c.Detector.Workers),
		})
	}

	// Validate changepoint configuration
	if c.Changepoint.Penalty < 0 {
		errs = append(errs, &ValidationError{
			Field:   "changepoint.penalty",
			Message: fmt.Sprintf("penalty cannot be negative, got %g", c.Changepoint.Penalty),
		})
	}

	if c.Changepoint.MinSegmentLength < 1 {
		errs = append(errs, &ValidationError{
			Field:   "changepoint.min_segment_length",
			Message: fmt.Sprintf("min_segment_length must be at least 1, got %d", c.Changepoint.MinSegmentLength),
		})
	}

	// Validate report configuration
	if c.Report.WritePlotData && c.Report.OutputDir == "" {
		errs = append(errs, &ValidationError{
			Field:   "report.output_dir",
			Message: "output_dir is required when write_plot_data is true",
		})
	}

	// Validate logging configuration
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, &ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level),
		})
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, &ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format '%s', must be one of: json, text", c.Logging.Format),
		})
	}

	return errs
}
