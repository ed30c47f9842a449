package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)
)

// schema defines the tables for the analysis persistence layer.
// Version is tracked in the schema_versions table.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_versions (
    version     INTEGER PRIMARY KEY,
    applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS analysis_runs (
    id                TEXT PRIMARY KEY,
    status            TEXT NOT NULL DEFAULT 'completed',
    contamination     REAL NOT NULL DEFAULT 0.15,
    trees             INTEGER NOT NULL DEFAULT 100,
    seed              INTEGER NOT NULL DEFAULT 42,
    devices_scored    INTEGER NOT NULL DEFAULT 0,
    anomalies         INTEGER NOT NULL DEFAULT 0,
    insufficient_data INTEGER NOT NULL DEFAULT 0,
    error             TEXT NOT NULL DEFAULT '',
    duration_ms       INTEGER NOT NULL DEFAULT 0,
    started_at        DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON analysis_runs(started_at DESC);

CREATE TABLE IF NOT EXISTS device_scores (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id           TEXT NOT NULL REFERENCES analysis_runs(id) ON DELETE CASCADE,
    device_id        TEXT NOT NULL,
    scan_count       INTEGER NOT NULL DEFAULT 0,
    mean_discrepancy REAL NOT NULL DEFAULT 0.0,
    std_discrepancy  REAL NOT NULL DEFAULT 0.0,
    raw_score        REAL NOT NULL DEFAULT 0.0,
    normalized_score REAL NOT NULL DEFAULT 0.0,
    is_anomaly       BOOLEAN NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_device_scores_run ON device_scores(run_id, raw_score ASC);
CREATE INDEX IF NOT EXISTS idx_device_scores_device ON device_scores(device_id);
CREATE INDEX IF NOT EXISTS idx_device_scores_anomaly ON device_scores(run_id, is_anomaly);
`,
	},
	// Migration 2: raw scan record retention
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS scan_records (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    device_id           TEXT NOT NULL,
    scan_id             TEXT NOT NULL,
    process_name        TEXT NOT NULL,
    reported_proc_count INTEGER NOT NULL DEFAULT 0,
    source              TEXT NOT NULL DEFAULT '',
    timestamp           DATETIME,
    ingested_at         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_scan_records_device ON scan_records(device_id, id ASC);
CREATE INDEX IF NOT EXISTS idx_scan_records_scan ON scan_records(device_id, scan_id);
`,
	},
}

// sqliteStore is the SQLite-backed implementation of Store.
type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path and
// runs all pending schema migrations. Pass ":memory:" for an in-memory store.
func NewSQLiteStore(path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	// Enable WAL mode for better concurrency and performance.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	// Enable foreign-key constraints.
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &sqliteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate applies any unapplied migrations in order.
func (s *sqliteStore) migrate() error {
	// Ensure schema_versions table exists before reading from it.
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue // already applied
		}

		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}

		if _, err := s.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// ─── Runs ─────────────────────────────────────────────────────────────────────

func (s *sqliteStore) SaveRun(ctx context.Context, rec *RunRecord) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO analysis_runs(id, status, contamination, trees, seed, devices_scored, anomalies, insufficient_data, error, duration_ms, started_at)
        VALUES(?,?,?,?,?,?,?,?,?,?,?)
        ON CONFLICT(id) DO UPDATE SET
            status            = excluded.status,
            devices_scored    = excluded.devices_scored,
            anomalies         = excluded.anomalies,
            insufficient_data = excluded.insufficient_data,
            error             = excluded.error,
            duration_ms       = excluded.duration_ms
    `,
		rec.ID, rec.Status, rec.Contamination, rec.Trees, rec.Seed,
		rec.DevicesScored, rec.Anomalies, rec.InsufficientData,
		rec.Error, rec.DurationMs, rec.StartedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}
	return nil
}

func (s *sqliteStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,status,contamination,trees,seed,devices_scored,anomalies,insufficient_data,error,duration_ms,started_at FROM analysis_runs WHERE id=?`, id)
	return scanRun(row)
}

func (s *sqliteStore) ListRuns(ctx context.Context, limit, offset int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id,status,contamination,trees,seed,devices_scored,anomalies,insufficient_data,error,duration_ms,started_at FROM analysis_runs ORDER BY started_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	rec := &RunRecord{}
	var startedAt string
	err := row.Scan(&rec.ID, &rec.Status, &rec.Contamination, &rec.Trees, &rec.Seed,
		&rec.DevicesScored, &rec.Anomalies, &rec.InsufficientData,
		&rec.Error, &rec.DurationMs, &startedAt)
	if err != nil {
		return nil, err
	}
	rec.StartedAt, _ = parseTime(startedAt)
	return rec, nil
}

// ─── Device scores ────────────────────────────────────────────────────────────

func (s *sqliteStore) SaveDeviceScores(ctx context.Context, runID string, recs []*DeviceScoreRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM device_scores WHERE run_id=?`, runID); err != nil {
		return fmt.Errorf("delete device_scores: %w", err)
	}
	for _, r := range recs {
		_, err := tx.ExecContext(ctx, `
            INSERT INTO device_scores(run_id, device_id, scan_count, mean_discrepancy, std_discrepancy, raw_score, normalized_score, is_anomaly)
            VALUES(?,?,?,?,?,?,?,?)
        `, runID, r.DeviceID, r.ScanCount, r.MeanDiscrepancy, r.StdDiscrepancy, r.RawScore, r.NormalizedScore, r.IsAnomaly)
		if err != nil {
			return fmt.Errorf("insert device_score: %w", err)
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) QueryDeviceScores(ctx context.Context, q ScoreQuery) ([]*DeviceScoreRecord, error) {
	query := `SELECT id,run_id,device_id,scan_count,mean_discrepancy,std_discrepancy,raw_score,normalized_score,is_anomaly FROM device_scores WHERE 1=1`
	var args []any

	if q.RunID != "" {
		query += ` AND run_id=?`
		args = append(args, q.RunID)
	}
	if q.DeviceID != "" {
		query += ` AND device_id=?`
		args = append(args, q.DeviceID)
	}
	if q.AnomalyOnly {
		query += ` AND is_anomaly=1`
	}

	query += ` ORDER BY raw_score ASC`

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*DeviceScoreRecord
	for rows.Next() {
		rec := &DeviceScoreRecord{}
		err := rows.Scan(&rec.ID, &rec.RunID, &rec.DeviceID, &rec.ScanCount,
			&rec.MeanDiscrepancy, &rec.StdDiscrepancy,
			&rec.RawScore, &rec.NormalizedScore, &rec.IsAnomaly)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// ─── Scan records ─────────────────────────────────────────────────────────────

func (s *sqliteStore) AppendScanRows(ctx context.Context, rows []*ScanRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, r := range rows {
		var ts any
		if !r.Timestamp.IsZero() {
			ts = r.Timestamp.UTC()
		}
		ingested := r.IngestedAt
		if ingested.IsZero() {
			ingested = time.Now()
		}
		_, err := tx.ExecContext(ctx, `
            INSERT INTO scan_records(device_id, scan_id, process_name, reported_proc_count, source, timestamp, ingested_at)
            VALUES(?,?,?,?,?,?,?)
        `, r.DeviceID, r.ScanID, r.ProcessName, r.ReportedProcCount, r.Source, ts, ingested.UTC())
		if err != nil {
			return fmt.Errorf("insert scan_record: %w", err)
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) QueryScanRows(ctx context.Context, deviceID string, limit int) ([]*ScanRow, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id,device_id,scan_id,process_name,reported_proc_count,source,COALESCE(timestamp,''),ingested_at FROM scan_records WHERE device_id=? ORDER BY id ASC LIMIT ?`, deviceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*ScanRow
	for rows.Next() {
		rec := &ScanRow{}
		var ts, ingested string
		err := rows.Scan(&rec.ID, &rec.DeviceID, &rec.ScanID, &rec.ProcessName,
			&rec.ReportedProcCount, &rec.Source, &ts, &ingested)
		if err != nil {
			return nil, err
		}
		if ts != "" {
			rec.Timestamp, _ = parseTime(ts)
		}
		rec.IngestedAt, _ = parseTime(ingested)
		result = append(result, rec)
	}
	return result, rows.Err()
}

func (s *sqliteStore) CountScanRows(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scan_records`).Scan(&n)
	return n, err
}

// parseTime handles the timestamp formats SQLite hands back depending on how
// the value was written.
func parseTime(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05Z",
	}
	var lastErr error
	for _, layout := range layouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
