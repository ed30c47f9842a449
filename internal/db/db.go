package db

import (
	"context"
	"time"
)

// Store is the main persistence interface for the analysis layer.
type Store interface {
	RunStore
	DeviceScoreStore
	ScanStore

	// Close releases database resources.
	Close() error

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
}

// ─── Run store ────────────────────────────────────────────────────────────────

// RunRecord is the DB representation of a completed analysis run.
type RunRecord struct {
	ID               string    `json:"id"`
	Status           string    `json:"status"` // completed | failed
	Contamination    float64   `json:"contamination"`
	Trees            int       `json:"trees"`
	Seed             int64     `json:"seed"`
	DevicesScored    int       `json:"devices_scored"`
	Anomalies        int       `json:"anomalies"`
	InsufficientData int       `json:"insufficient_data"`
	Error            string    `json:"error,omitempty"`
	DurationMs       int64     `json:"duration_ms"`
	StartedAt        time.Time `json:"started_at"`
}

// RunStore persists analysis run history.
type RunStore interface {
	// SaveRun writes a run record.
	SaveRun(ctx context.Context, rec *RunRecord) error

	// GetRun retrieves a run by ID.
	GetRun(ctx context.Context, id string) (*RunRecord, error)

	// ListRuns returns runs, newest first.
	ListRuns(ctx context.Context, limit, offset int) ([]*RunRecord, error)
}

// ─── Device score store ───────────────────────────────────────────────────────

// DeviceScoreRecord is a persisted per-device scoring result.
type DeviceScoreRecord struct {
	ID              int64   `json:"id"`
	RunID           string  `json:"run_id"`
	DeviceID        string  `json:"device_id"`
	ScanCount       int     `json:"scan_count"`
	MeanDiscrepancy float64 `json:"mean_discrepancy"`
	StdDiscrepancy  float64 `json:"std_discrepancy"`
	RawScore        float64 `json:"raw_score"`
	NormalizedScore float64 `json:"normalized_score"`
	IsAnomaly       bool    `json:"is_anomaly"`
}

// ScoreQuery filters device score queries.
type ScoreQuery struct {
	RunID       string
	DeviceID    string
	AnomalyOnly bool
	Limit       int
	Offset      int
}

// DeviceScoreStore persists per-device scores for each run.
type DeviceScoreStore interface {
	// SaveDeviceScores writes all scores for a run in one transaction.
	SaveDeviceScores(ctx context.Context, runID string, recs []*DeviceScoreRecord) error

	// QueryDeviceScores retrieves scores with optional filters, most anomalous first.
	QueryDeviceScores(ctx context.Context, q ScoreQuery) ([]*DeviceScoreRecord, error)
}

// ─── Scan store ───────────────────────────────────────────────────────────────

// ScanRow is a persisted raw scan record.
type ScanRow struct {
	ID                int64     `json:"id"`
	DeviceID          string    `json:"device_id"`
	ScanID            string    `json:"scan_id"`
	ProcessName       string    `json:"process_name"`
	ReportedProcCount int       `json:"reported_proc_count"`
	Source            string    `json:"source"`
	Timestamp         time.Time `json:"timestamp"`
	IngestedAt        time.Time `json:"ingested_at"`
}

// ScanStore persists raw scan records so artifacts can be regenerated and
// past runs re-examined without the original export file.
type ScanStore interface {
	// AppendScanRows writes a batch of raw scan records.
	AppendScanRows(ctx context.Context, rows []*ScanRow) error

	// QueryScanRows retrieves scan records for a device in insertion order.
	QueryScanRows(ctx context.Context, deviceID string, limit int) ([]*ScanRow, error)

	// CountScanRows returns the total number of persisted scan records.
	CountScanRows(ctx context.Context) (int64, error)
}
