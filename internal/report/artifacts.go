package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/fleetsight/fleetsight/internal/analytics/changepoint"
	"github.com/fleetsight/fleetsight/internal/scan"
)

// SeriesPoint is one scan of a device's discrepancy series, in scan order.
type SeriesPoint struct {
	ScanID      string  `json:"scan"`
	Discrepancy float64 `json:"discrepancy"`
}

// DeviceSeries is the plot-ready artifact for one device: the scan-ordered
// discrepancy signal, its mean, and the detected change-point indices. The
// external visualizer renders these; fleetsight only emits the data.
type DeviceSeries struct {
	DeviceID     string        `json:"device"`
	Points       []SeriesPoint `json:"points"`
	Mean         float64       `json:"mean"`
	ChangePoints []int         `json:"change_points,omitempty"`
}

// ArtifactWriter exports per-device series artifacts as JSON files, one file
// per device, into a target directory. Change-point detection failures on
// individual devices are logged and skipped; they never fail the export.
type ArtifactWriter struct {
	outputDir string
	detector  *changepoint.Detector
	logger    *zap.Logger
}

// NewArtifactWriter creates a writer targeting outputDir. The directory is
// created on the first write.
func NewArtifactWriter(outputDir string, detector *changepoint.Detector, logger *zap.Logger) *ArtifactWriter {
	return &ArtifactWriter{outputDir: outputDir, detector: detector, logger: logger}
}

// WriteAll exports one artifact per device found in the summaries, in sorted
// device order, and returns the number of files written.
func (w *ArtifactWriter) WriteAll(summaries []scan.Summary) (int, error) {
	if err := os.MkdirAll(w.outputDir, 0o755); err != nil {
		return 0, fmt.Errorf("create output dir %q: %w", w.outputDir, err)
	}

	perDevice := make(map[string][]SeriesPoint)
	for _, s := range summaries {
		perDevice[s.DeviceID] = append(perDevice[s.DeviceID], SeriesPoint{
			ScanID:      s.ScanID,
			Discrepancy: s.Discrepancy,
		})
	}

	devices := make([]string, 0, len(perDevice))
	for id := range perDevice {
		devices = append(devices, id)
	}
	sort.Strings(devices)

	written := 0
	for _, id := range devices {
		if err := w.writeDevice(id, perDevice[id]); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

func (w *ArtifactWriter) writeDevice(deviceID string, points []SeriesPoint) error {
	series := DeviceSeries{
		DeviceID: deviceID,
		Points:   points,
	}

	var sum float64
	signal := make([]float64, len(points))
	for i, p := range points {
		sum += p.Discrepancy
		signal[i] = p.Discrepancy
	}
	series.Mean = sum / float64(len(points))

	if w.detector != nil {
		cps, err := w.detector.Detect(signal)
		if err != nil {
			// Segmentation is decorative; skip the overlay for this device.
			w.logger.Debug("skipping change-point overlay",
				zap.String("device", deviceID), zap.Error(err))
		} else {
			series.ChangePoints = cps
		}
	}

	path := filepath.Join(w.outputDir, fmt.Sprintf("%s_statistics.json", deviceID))
	data, err := json.MarshalIndent(series, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal series for %s: %w", deviceID, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %q: %w", path, err)
	}
	return nil
}
