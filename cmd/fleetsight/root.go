package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fleetsight/fleetsight/internal/audit"
	"github.com/fleetsight/fleetsight/internal/config"
)

var configPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "fleetsight",
		Short: "Unsupervised anomaly detection for device fleet scan data",
		Long: `fleetsight flags devices whose reported process counts disagree with
what scans actually observed. Per-device discrepancy statistics are scored by
an isolation-forest ensemble; the most isolated devices are reported for
investigation.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "/etc/fleetsight/config.yaml", "path to config file")

	root.AddCommand(newAnalyzeCmd())
	root.AddCommand(newServeCmd())
	return root
}

// loadConfig loads and validates configuration from the configured path. The
// manager is returned alongside the snapshot so serve can watch for changes.
func loadConfig(ctx context.Context) (*config.Config, config.ConfigManager, error) {
	mgr, err := config.NewConfigManager(configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := mgr.Load(ctx); err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if err := mgr.Validate(ctx); err != nil {
		return nil, nil, err
	}
	return mgr.Get(ctx), mgr, nil
}

// newAuditLogger builds the audit logger from the logging section.
func newAuditLogger(cfg *config.Config) (audit.Logger, error) {
	ac := audit.DefaultConfig()
	ac.LogLevel = cfg.Logging.Level
	if cfg.Logging.AppLogPath != "" {
		ac.AppLogPath = cfg.Logging.AppLogPath
	}
	if cfg.Logging.AuditLogPath != "" {
		ac.AuditLogPath = cfg.Logging.AuditLogPath
	}
	return audit.NewLogger(ac)
}
