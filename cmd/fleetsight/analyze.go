package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fleetsight/fleetsight/internal/analytics"
	"github.com/fleetsight/fleetsight/internal/analytics/changepoint"
	"github.com/fleetsight/fleetsight/internal/audit"
	"github.com/fleetsight/fleetsight/internal/config"
	"github.com/fleetsight/fleetsight/internal/db"
	"github.com/fleetsight/fleetsight/internal/ingest"
	"github.com/fleetsight/fleetsight/internal/report"
	"github.com/fleetsight/fleetsight/internal/scan"
)

func newAnalyzeCmd() *cobra.Command {
	var (
		input         string
		contamination float64
		trees         int
		subSample     int
		seed          int64
		workers       int
		quiet         bool
		outputDir     string
		noPlotData    bool
		save          bool
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run anomaly detection over a CSV scan export",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			cfg, _, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			applyDetectorFlags(cmd, cfg, contamination, trees, subSample, seed, workers)
			if cmd.Flags().Changed("output-dir") {
				cfg.Report.OutputDir = outputDir
			}
			if quiet {
				cfg.Report.Verbose = false
			}
			if noPlotData {
				cfg.Report.WritePlotData = false
			}

			auditLogger, err := newAuditLogger(cfg)
			if err != nil {
				return fmt.Errorf("init audit logger: %w", err)
			}
			defer auditLogger.Close()
			appLogger := audit.AppLogger(auditLogger)

			records, err := ingest.ReadFile(input)
			if err != nil {
				return fmt.Errorf("read %s: %w", input, err)
			}
			_ = auditLogger.LogDataIngested(ctx, input, len(records))

			reporter := report.NewConsoleReporter(os.Stdout)
			pipeline := analytics.NewPipeline(appLogger, reporter)

			started := time.Now()
			result, err := pipeline.Run(ctx, records, analytics.Options{
				Contamination: cfg.Detector.Contamination,
				Trees:         cfg.Detector.Trees,
				SubSampleSize: cfg.Detector.SubSampleSize,
				Seed:          cfg.Detector.Seed,
				Workers:       cfg.Detector.Workers,
				Verbose:       cfg.Report.Verbose,
			})
			if err != nil {
				_ = auditLogger.LogRunFailed(ctx, "", err)
				return err
			}
			_ = auditLogger.LogRunCompleted(ctx, result.RunID, len(result.Anomalous), result.Duration)

			printRunSummary(result)

			if cfg.Report.WritePlotData {
				detector := &changepoint.Detector{
					Penalty:          cfg.Changepoint.Penalty,
					MinSegmentLength: cfg.Changepoint.MinSegmentLength,
				}
				writer := report.NewArtifactWriter(cfg.Report.OutputDir, detector, appLogger)
				written, err := writer.WriteAll(result.Summaries)
				if err != nil {
					return fmt.Errorf("write artifacts: %w", err)
				}
				fmt.Printf("Wrote %d device artifacts to %s\n", written, cfg.Report.OutputDir)
			}

			if save {
				if err := persistResult(ctx, cfg, input, records, result, started); err != nil {
					return fmt.Errorf("persist results: %w", err)
				}
				fmt.Printf("Saved run %s to %s\n", result.RunID, cfg.Database.Path)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "CSV scan export to analyze (required)")
	_ = cmd.MarkFlagRequired("input")
	cmd.Flags().Float64Var(&contamination, "contamination", 0, "expected fraction of anomalous devices, in (0,1)")
	cmd.Flags().IntVar(&trees, "trees", 0, "isolation ensemble size")
	cmd.Flags().IntVar(&subSample, "sub-sample", 0, "per-tree sub-sample size")
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed for reproducible runs")
	cmd.Flags().IntVar(&workers, "workers", 0, "tree-building concurrency (0 = all CPUs)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress per-device anomaly lines")
	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "directory for plot-data artifacts")
	cmd.Flags().BoolVar(&noPlotData, "no-plot-data", false, "skip writing plot-data artifacts")
	cmd.Flags().BoolVar(&save, "save", false, "persist the run to the results database")
	return cmd
}

// applyDetectorFlags overrides detector config with explicitly-set flags.
func applyDetectorFlags(cmd *cobra.Command, cfg *config.Config, contamination float64, trees, subSample int, seed int64, workers int) {
	if cmd.Flags().Changed("contamination") {
		cfg.Detector.Contamination = contamination
	}
	if cmd.Flags().Changed("trees") {
		cfg.Detector.Trees = trees
	}
	if cmd.Flags().Changed("sub-sample") {
		cfg.Detector.SubSampleSize = subSample
	}
	if cmd.Flags().Changed("seed") {
		cfg.Detector.Seed = seed
	}
	if cmd.Flags().Changed("workers") {
		cfg.Detector.Workers = workers
	}
}

func printRunSummary(result *analytics.Result) {
	fmt.Printf("\nRun %s: %d devices scored, %d anomalous (%dms)\n",
		result.RunID, len(result.Scored), len(result.Anomalous),
		result.Duration.Milliseconds())
	if len(result.InsufficientData) > 0 {
		ids := make([]string, len(result.InsufficientData))
		for i, f := range result.InsufficientData {
			ids[i] = f.DeviceID
		}
		fmt.Printf("Insufficient data (single scan, not scored): %s\n", strings.Join(ids, ", "))
	}
}

// persistResult saves the run, its scores, and the raw records for later
// inspection through the serve API.
func persistResult(ctx context.Context, cfg *config.Config, source string, records []scan.Record, result *analytics.Result, started time.Time) error {
	store, err := db.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.SaveRun(ctx, &db.RunRecord{
		ID:               result.RunID,
		Status:           "completed",
		Contamination:    result.Options.Contamination,
		Trees:            result.Options.Trees,
		Seed:             result.Options.Seed,
		DevicesScored:    len(result.Scored),
		Anomalies:        len(result.Anomalous),
		InsufficientData: len(result.InsufficientData),
		DurationMs:       result.Duration.Milliseconds(),
		StartedAt:        started.UTC(),
	}); err != nil {
		return err
	}

	scores := make([]*db.DeviceScoreRecord, len(result.Scored))
	for i, d := range result.Scored {
		scores[i] = &db.DeviceScoreRecord{
			RunID:           result.RunID,
			DeviceID:        d.DeviceID,
			ScanCount:       d.ScanCount,
			MeanDiscrepancy: d.MeanDiscrepancy,
			StdDiscrepancy:  d.StdDiscrepancy,
			RawScore:        d.RawScore,
			NormalizedScore: d.NormalizedScore,
			IsAnomaly:       d.IsAnomaly,
		}
	}
	if err := store.SaveDeviceScores(ctx, result.RunID, scores); err != nil {
		return err
	}

	rows := make([]*db.ScanRow, len(records))
	for i, rec := range records {
		rows[i] = &db.ScanRow{
			DeviceID:          rec.DeviceID,
			ScanID:            rec.ScanID,
			ProcessName:       rec.ProcessName,
			ReportedProcCount: rec.ReportedProcCount,
			Source:            source,
			Timestamp:         rec.Timestamp,
		}
	}
	return store.AppendScanRows(ctx, rows)
}
