package config

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Server defaults
	cfg.Server.Port = 8081
	cfg.Server.TLSEnabled = false
	cfg.Server.TLSCertPath = ""
	cfg.Server.TLSKeyPath = ""
	cfg.Server.AllowedOrigins = nil
	cfg.Server.RateLimitPerMinute = 60

	// Database defaults
	cfg.Database.Path = "/var/lib/fleetsight/fleetsight.db"

	// Detector defaults
	cfg.Detector.Trees = 100
	cfg.Detector.SubSampleSize = 256
	cfg.Detector.Contamination = 0.15
	cfg.Detector.Seed = 42
	cfg.Detector.Workers = 0 // 0 means GOMAXPROCS

	// Changepoint defaults
	cfg.Changepoint.Penalty = 1000
	cfg.Changepoint.MinSegmentLength = 2

	// Report defaults
	cfg.Report.Verbose = true
	cfg.Report.OutputDir = "artifacts"
	cfg.Report.WritePlotData = true

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.AppLogPath = "logs/app.log"
	cfg.Logging.AuditLogPath = "logs/audit.log"

	return cfg
}
