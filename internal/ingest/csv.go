// Package ingest loads scan records from external sources. The analysis core
// is source-agnostic; this package owns the CSV shape the fleet tooling
// exports (one row per observed process per scan).
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fleetsight/fleetsight/internal/metrics"
	"github.com/fleetsight/fleetsight/internal/scan"
)

// Column headers as produced by the fleet export job. Header matching is
// case-insensitive; unknown columns (including the exporter's unnamed index
// column) are ignored.
const (
	colDevice    = "device"
	colScan      = "scan"
	colProcName  = "procname"
	colProcCount = "scan_proc_count"
	colTimestamp = "timestamp"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ReadFile loads scan records from a CSV file.
func ReadFile(path string) ([]scan.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", path, err)
	}
	defer f.Close()
	return Read(f)
}

// Read loads scan records from CSV data. The first row must be a header
// containing at least the device, scan, procName, and scan_proc_count
// columns. Rows are returned in file order; the core relies on that order for
// stable tie-breaking.
func Read(r io.Reader) ([]scan.Record, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, &scan.MalformedInputError{Index: -1, Reason: "empty input"}
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{colDevice, colScan, colProcName, colProcCount} {
		if _, ok := cols[required]; !ok {
			return nil, &scan.MalformedInputError{Index: -1, Reason: fmt.Sprintf("missing column %q", required)}
		}
	}
	tsCol, hasTS := cols[colTimestamp]

	var records []scan.Record
	for i := 0; ; i++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", i, err)
		}

		countField := strings.TrimSpace(row[cols[colProcCount]])
		count, err := strconv.Atoi(countField)
		if err != nil {
			return nil, &scan.MalformedInputError{Index: i, Reason: fmt.Sprintf("non-numeric scan_proc_count %q", countField)}
		}

		rec := scan.Record{
			DeviceID:          strings.TrimSpace(row[cols[colDevice]]),
			ScanID:            strings.TrimSpace(row[cols[colScan]]),
			ProcessName:       strings.TrimSpace(row[cols[colProcName]]),
			ReportedProcCount: count,
		}
		if hasTS && tsCol < len(row) {
			rec.Timestamp = parseTimestamp(row[tsCol])
		}
		records = append(records, rec)
	}
	metrics.RecordsIngested.Add(float64(len(records)))
	return records, nil
}

// parseTimestamp is best-effort: the core never reads the timestamp, so an
// unparseable value yields the zero time rather than a failed run.
func parseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
