package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fleetsight/fleetsight/internal/analytics"
	"github.com/fleetsight/fleetsight/internal/config"
	"github.com/fleetsight/fleetsight/internal/db"
	"github.com/fleetsight/fleetsight/internal/scan"
)

func newTestServer(t *testing.T) (*Server, *http.ServeMux) {
	t.Helper()

	store, err := db.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	srv, err := NewServer(config.DefaultConfig(), zap.NewNop(), store, nil)
	require.NoError(t, err)
	t.Cleanup(srv.cancel)
	t.Cleanup(srv.limiter.stop)

	go srv.hub.run()

	mux := http.NewServeMux()
	srv.registerHandlers(mux)
	return srv, mux
}

// fleetRecords builds a batch where most devices report small discrepancies
// and one device lies wildly about its process counts.
func fleetRecords(devices, scans int) []scan.Record {
	var records []scan.Record
	for d := 0; d < devices; d++ {
		deviceID := fmt.Sprintf("device-%02d", d)
		for s := 0; s < scans; s++ {
			scanID := fmt.Sprintf("scan-%02d", s)
			reported := 3
			if d == devices-1 {
				reported = 120 + s // the liar
			}
			records = append(records, scan.Record{
				DeviceID:          deviceID,
				ScanID:            scanID,
				ProcessName:       "procmon",
				ReportedProcCount: reported,
			})
			records = append(records, scan.Record{
				DeviceID:          deviceID,
				ScanID:            scanID,
				ProcessName:       "sshd",
				ReportedProcCount: reported,
			})
		}
	}
	return records
}

func TestHealthAndReady(t *testing.T) {
	_, mux := newTestServer(t)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "healthy")

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestTriggerRunAndHistory(t *testing.T) {
	_, mux := newTestServer(t)

	body, err := json.Marshal(RunRequest{
		Records: fleetRecords(10, 5),
		Options: analytics.Options{Contamination: 0.1, Seed: 42},
		Source:  "test",
	})
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/runs", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp RunResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.RunID)
	assert.Len(t, resp.Scored, 10)
	require.Len(t, resp.Anomalous, 1)
	assert.Equal(t, "device-09", resp.Anomalous[0])

	// Run shows up in history.
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var list struct {
		Runs  []*db.RunRecord `json:"runs"`
		Count int             `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, resp.RunID, list.Runs[0].ID)
	assert.Equal(t, 1, list.Runs[0].Anomalies)

	// Per-run device scores.
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+resp.RunID+"/devices", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var devices struct {
		Devices []*db.DeviceScoreRecord `json:"devices"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &devices))
	assert.Len(t, devices.Devices, 10)
	// Lowest raw score first, and that is the liar.
	assert.Equal(t, "device-09", devices.Devices[0].DeviceID)

	// Anomalies endpoint defaults to the latest run.
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/anomalies", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var anomalies struct {
		RunID     string                  `json:"run_id"`
		Anomalies []*db.DeviceScoreRecord `json:"anomalies"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &anomalies))
	assert.Equal(t, resp.RunID, anomalies.RunID)
	require.Len(t, anomalies.Anomalies, 1)
	assert.Equal(t, "device-09", anomalies.Anomalies[0].DeviceID)
}

func TestTriggerRunBadOptions(t *testing.T) {
	_, mux := newTestServer(t)

	body, err := json.Marshal(RunRequest{
		Records: fleetRecords(5, 3),
		Options: analytics.Options{Contamination: 1.5},
	})
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/runs", bytes.NewReader(body)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "contamination")
}

func TestTriggerRunInsufficientDevices(t *testing.T) {
	_, mux := newTestServer(t)

	// One multi-scan device is not enough to fit an ensemble.
	body, err := json.Marshal(RunRequest{Records: fleetRecords(1, 4)})
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/runs", bytes.NewReader(body)))
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestRunNotFound(t *testing.T) {
	_, mux := newTestServer(t)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/runs/no-such-run", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	_, mux := newTestServer(t)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/v1/runs", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/anomalies", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}
