package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fleetsight/fleetsight/internal/audit"
	"github.com/fleetsight/fleetsight/internal/db"
	"github.com/fleetsight/fleetsight/internal/server"
)

func newServeCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the fleetsight HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			cfg, mgr, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}

			auditLogger, err := newAuditLogger(cfg)
			if err != nil {
				return fmt.Errorf("init audit logger: %w", err)
			}
			defer auditLogger.Close()
			_ = auditLogger.Log(ctx, audit.NewEvent(audit.EventConfigLoaded).
				WithSource(configPath).
				WithResult(audit.ResultSuccess))

			store, err := db.NewSQLiteStore(cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()

			srv, err := server.NewServer(cfg, audit.AppLogger(auditLogger), store, auditLogger)
			if err != nil {
				return fmt.Errorf("create server: %w", err)
			}

			if err := srv.Start(); err != nil {
				return fmt.Errorf("start server: %w", err)
			}

			// Apply detector tuning from config file edits without a restart.
			watchCtx, cancelWatch := context.WithCancel(ctx)
			defer cancelWatch()
			go func() {
				for updated := range mgr.Watch(watchCtx) {
					if errs := updated.Validate(); len(errs) > 0 {
						continue
					}
					srv.ApplyConfig(&updated)
					_ = auditLogger.Log(watchCtx, audit.NewEvent(audit.EventConfigReload).
						WithSource(configPath).
						WithResult(audit.ResultSuccess))
				}
			}()

			// Wait for shutdown signal (Ctrl+C or SIGTERM).
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			<-sigChan
			fmt.Println("\nReceived shutdown signal...")

			if err := srv.Stop(); err != nil {
				return fmt.Errorf("stop server: %w", err)
			}
			fmt.Println("Shutdown complete")
			return nil
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP listen port (overrides config)")
	return cmd
}
