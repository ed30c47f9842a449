package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fleetsight/fleetsight/internal/analytics/changepoint"
	"github.com/fleetsight/fleetsight/internal/scan"
)

func TestWriteAllPerDeviceArtifacts(t *testing.T) {
	dir := t.TempDir()
	detector := &changepoint.Detector{Penalty: 10, MinSegmentLength: 2}
	w := NewArtifactWriter(filepath.Join(dir, "out"), detector, zap.NewNop())

	summaries := []scan.Summary{
		{DeviceID: "dev-b", ScanID: "s1", Discrepancy: 1},
		{DeviceID: "dev-b", ScanID: "s2", Discrepancy: 3},
		{DeviceID: "dev-a", ScanID: "s1", Discrepancy: 0},
		{DeviceID: "dev-a", ScanID: "s2", Discrepancy: 0},
		{DeviceID: "dev-a", ScanID: "s3", Discrepancy: 0},
		{DeviceID: "dev-a", ScanID: "s4", Discrepancy: 40},
		{DeviceID: "dev-a", ScanID: "s5", Discrepancy: 40},
		{DeviceID: "dev-a", ScanID: "s6", Discrepancy: 40},
	}

	written, err := w.WriteAll(summaries)
	require.NoError(t, err)
	assert.Equal(t, 2, written)

	data, err := os.ReadFile(filepath.Join(dir, "out", "dev-a_statistics.json"))
	require.NoError(t, err)

	var series DeviceSeries
	require.NoError(t, json.Unmarshal(data, &series))
	assert.Equal(t, "dev-a", series.DeviceID)
	require.Len(t, series.Points, 6)
	assert.Equal(t, "s4", series.Points[3].ScanID)
	assert.Equal(t, 20.0, series.Mean)
	assert.Equal(t, []int{3}, series.ChangePoints, "step from 0 to 40 at index 3")

	data, err = os.ReadFile(filepath.Join(dir, "out", "dev-b_statistics.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &series))
	assert.Equal(t, 2.0, series.Mean)
}

func TestWriteAllShortSeriesSkipsChangePoints(t *testing.T) {
	dir := t.TempDir()
	w := NewArtifactWriter(dir, changepoint.NewDetector(), zap.NewNop())

	summaries := []scan.Summary{
		{DeviceID: "dev-solo", ScanID: "s1", Discrepancy: 5},
	}

	written, err := w.WriteAll(summaries)
	require.NoError(t, err)
	assert.Equal(t, 1, written)

	data, err := os.ReadFile(filepath.Join(dir, "dev-solo_statistics.json"))
	require.NoError(t, err)

	var series DeviceSeries
	require.NoError(t, json.Unmarshal(data, &series))
	assert.Empty(t, series.ChangePoints)
	assert.Equal(t, 5.0, series.Mean)
}

func TestWriteAllNilDetector(t *testing.T) {
	dir := t.TempDir()
	w := NewArtifactWriter(dir, nil, zap.NewNop())

	summaries := []scan.Summary{
		{DeviceID: "dev-a", ScanID: "s1", Discrepancy: 1},
		{DeviceID: "dev-a", ScanID: "s2", Discrepancy: 2},
	}

	written, err := w.WriteAll(summaries)
	require.NoError(t, err)
	assert.Equal(t, 1, written)
}
