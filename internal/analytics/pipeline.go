// Package analytics orchestrates the fleetsight anomaly pipeline: raw scan
// records are aggregated into per-device features, scored by the isolation
// ensemble, normalized, and classified against the contamination threshold.
package analytics

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fleetsight/fleetsight/internal/analytics/aggregate"
	"github.com/fleetsight/fleetsight/internal/analytics/ml"
	"github.com/fleetsight/fleetsight/internal/analytics/score"
	"github.com/fleetsight/fleetsight/internal/metrics"
	"github.com/fleetsight/fleetsight/internal/scan"
)

// Reporter receives human-readable per-device anomaly notifications when the
// pipeline runs in verbose mode. Reporting is a side effect external to the
// algorithm; a failing reporter never affects the classification.
type Reporter interface {
	ReportAnomaly(d scan.ScoredDevice)
}

// Options configures a single analysis run. Zero values select the documented
// defaults; out-of-range values are rejected with *scan.ConfigurationError
// before any computation begins.
type Options struct {
	// Contamination is the expected fraction of anomalous devices, in (0,1).
	// Default 0.15.
	Contamination float64
	// Trees is the ensemble size. Default 100.
	Trees int
	// SubSampleSize is the per-tree sub-sample size. Default min(256, N).
	SubSampleSize int
	// Seed makes runs reproducible. Default ml.DefaultSeed.
	Seed int64
	// Workers bounds tree-building concurrency. Default runtime.NumCPU().
	Workers int
	// Verbose emits a per-device anomaly report through the Reporter.
	Verbose bool
}

func (o Options) withDefaults() Options {
	if o.Contamination == 0 {
		o.Contamination = 0.15
	}
	if o.Trees == 0 {
		o.Trees = 100
	}
	if o.Seed == 0 {
		o.Seed = ml.DefaultSeed
	}
	return o
}

// validate rejects out-of-range options. Zero values mean "use the default";
// explicitly invalid settings fail the run with no silent fallback.
func (o Options) validate() error {
	if o.Contamination < 0 || o.Contamination >= 1 {
		return &scan.ConfigurationError{Field: "contamination", Reason: "must be in (0, 1)"}
	}
	if o.Trees < 0 {
		return &scan.ConfigurationError{Field: "trees", Reason: "must be positive"}
	}
	if o.SubSampleSize < 0 {
		return &scan.ConfigurationError{Field: "sub_sample_size", Reason: "must be positive"}
	}
	return nil
}

// Result is the outcome of one analysis run. Scored covers every device that
// entered the ensemble, in first-seen input order. InsufficientData lists
// devices excluded for having fewer than two scans; they appear in neither the
// anomalous nor the normal scored set.
type Result struct {
	RunID            string                `json:"run_id"`
	Anomalous        []string              `json:"anomalous_devices"`
	Scored           []scan.ScoredDevice   `json:"scored"`
	InsufficientData []scan.DeviceFeatures `json:"insufficient_data"`
	Summaries        []scan.Summary        `json:"-"` // per-scan series, kept for artifact export
	Duration         time.Duration         `json:"duration"`
	Options          Options               `json:"options"`
}

// IsAnomalous reports whether the given device was classified anomalous.
func (r *Result) IsAnomalous(deviceID string) bool {
	for _, id := range r.Anomalous {
		if id == deviceID {
			return true
		}
	}
	return false
}

// Pipeline wires Aggregator → Isolation Ensemble → Score Normalizer into a
// single call. It performs no storage or plotting itself; those collaborators
// consume its Result.
type Pipeline struct {
	logger   *zap.Logger
	reporter Reporter
}

// NewPipeline creates a pipeline. logger may not be nil; reporter may be nil
// when verbose runs are never requested.
func NewPipeline(logger *zap.Logger, reporter Reporter) *Pipeline {
	return &Pipeline{logger: logger, reporter: reporter}
}

// Run executes the full pipeline over one batch of scan records.
//
// Errors: *scan.ConfigurationError for invalid options,
// *scan.MalformedInputError for invalid records, and
// *scan.InsufficientDataError when fewer than two devices are scorable.
// No partial result is ever returned alongside an error.
func (p *Pipeline) Run(ctx context.Context, records []scan.Record, opts Options) (*Result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	start := time.Now()
	runID := uuid.NewString()
	p.logger.Info("analysis run started",
		zap.String("run_id", runID),
		zap.Int("records", len(records)),
		zap.Float64("contamination", opts.Contamination),
		zap.Int("trees", opts.Trees),
		zap.Int64("seed", opts.Seed),
	)

	summaries, features, err := aggregate.Run(records)
	if err != nil {
		p.fail(runID, err)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		p.fail(runID, err)
		return nil, err
	}

	// Devices with a single scan have no defined spread; they are excluded
	// from scoring and surfaced separately, never imputed.
	scorable := make([]scan.DeviceFeatures, 0, len(features))
	var insufficient []scan.DeviceFeatures
	for _, f := range features {
		if f.HasStd {
			scorable = append(scorable, f)
		} else {
			insufficient = append(insufficient, f)
		}
	}

	if len(scorable) < 2 {
		err := &scan.InsufficientDataError{Scorable: len(scorable)}
		p.fail(runID, err)
		return nil, err
	}

	points := make([][]float64, len(scorable))
	for i, f := range scorable {
		points[i] = f.Vector()
	}

	forest := ml.NewForest(ml.Params{
		Trees:         opts.Trees,
		SubSampleSize: opts.SubSampleSize,
		Seed:          opts.Seed,
		Workers:       opts.Workers,
	})
	forest.Fit(points)

	raw := forest.DecisionFunction(points)
	labels := ml.Classify(raw, opts.Contamination)
	normalized := score.Normalize(raw)

	if err := ctx.Err(); err != nil {
		p.fail(runID, err)
		return nil, err
	}

	result := &Result{
		RunID:            runID,
		Scored:           make([]scan.ScoredDevice, len(scorable)),
		InsufficientData: insufficient,
		Summaries:        summaries,
		Options:          opts,
	}
	for i, f := range scorable {
		d := scan.ScoredDevice{
			DeviceFeatures:  f,
			IsAnomaly:       labels[i],
			RawScore:        raw[i],
			NormalizedScore: normalized[i],
		}
		result.Scored[i] = d
		if d.IsAnomaly {
			result.Anomalous = append(result.Anomalous, d.DeviceID)
			if opts.Verbose && p.reporter != nil {
				p.reporter.ReportAnomaly(d)
			}
		}
	}
	result.Duration = time.Since(start)

	metrics.RunsTotal.WithLabelValues("completed").Inc()
	metrics.RunDuration.Observe(result.Duration.Seconds())
	metrics.DevicesScored.Add(float64(len(result.Scored)))
	metrics.AnomaliesFlagged.Add(float64(len(result.Anomalous)))
	metrics.InsufficientDataDevices.Add(float64(len(insufficient)))

	p.logger.Info("analysis run completed",
		zap.String("run_id", runID),
		zap.Int("devices_scored", len(result.Scored)),
		zap.Int("anomalies", len(result.Anomalous)),
		zap.Int("insufficient_data", len(insufficient)),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

func (p *Pipeline) fail(runID string, err error) {
	metrics.RunsTotal.WithLabelValues("failed").Inc()
	p.logger.Warn("analysis run failed", zap.String("run_id", runID), zap.Error(err))
}
