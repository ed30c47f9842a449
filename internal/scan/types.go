package scan

import "time"

// Package scan defines the entities flowing through the fleetsight analysis
// pipeline. Every stage consumes one entity type and produces the next:
//
//	ScanRecord → ScanSummary → DeviceFeatures → ScoredDevice
//
// All entities are immutable snapshots computed once per analysis run; no
// stage mutates its input.

// Record is one observed process row from a device scan. A single scan of a
// device produces one Record per process name observed during that scan, all
// sharing the same (DeviceID, ScanID) pair.
type Record struct {
	DeviceID          string    `json:"device_id"`
	ScanID            string    `json:"scan_id"`
	ProcessName       string    `json:"process_name"`
	ReportedProcCount int       `json:"reported_proc_count"`
	Timestamp         time.Time `json:"timestamp,omitempty"`
}

// Summary is the per-(device, scan) roll-up of Records. ObservedProcCount is
// the number of process rows seen for the scan; Discrepancy is observed minus
// what the device itself reported, and may be negative, zero, or positive.
type Summary struct {
	DeviceID          string  `json:"device_id"`
	ScanID            string  `json:"scan_id"`
	ObservedProcCount int     `json:"observed_proc_count"`
	ReportedProcCount int     `json:"reported_proc_count"`
	Discrepancy       float64 `json:"discrepancy"`
}

// DeviceFeatures is the two-feature vector fed to the outlier detector:
// the mean and sample standard deviation of a device's scan discrepancies.
//
// A device with a single scan has no defined standard deviation. HasStd is
// false for such devices and StdDiscrepancy must be ignored; they are excluded
// from scoring and reported separately rather than imputed to zero.
type DeviceFeatures struct {
	DeviceID        string  `json:"device_id"`
	ScanCount       int     `json:"scan_count"`
	MeanDiscrepancy float64 `json:"mean_discrepancy"`
	StdDiscrepancy  float64 `json:"std_discrepancy"`
	HasStd          bool    `json:"has_std"`
}

// Vector returns the feature vector in detector order: [mean, std].
func (f DeviceFeatures) Vector() []float64 {
	return []float64{f.MeanDiscrepancy, f.StdDiscrepancy}
}

// ScoredDevice is a DeviceFeatures plus the detector's verdict.
//
// RawScore follows the decision-function convention: it is the negated
// isolation-forest score s(x), so lower (more negative) means more anomalous.
// NormalizedScore is the min-max rescaling of -RawScore into [0,1], so higher
// means more anomalous.
type ScoredDevice struct {
	DeviceFeatures
	IsAnomaly       bool    `json:"is_anomaly"`
	RawScore        float64 `json:"raw_score"`
	NormalizedScore float64 `json:"normalized_score"`
}
