package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fleetsight/fleetsight/internal/analytics"
	"github.com/fleetsight/fleetsight/internal/db"
	"github.com/fleetsight/fleetsight/internal/metrics"
	"github.com/fleetsight/fleetsight/internal/scan"
)

// RunRequest triggers an analysis run over an inline batch of scan records.
type RunRequest struct {
	Records []scan.Record     `json:"records"`
	Options analytics.Options `json:"options"`
	Source  string            `json:"source,omitempty"`
}

// RunResponse is the outcome of a triggered run.
type RunResponse struct {
	RunID            string              `json:"run_id"`
	Anomalous        []string            `json:"anomalous_devices"`
	Scored           []scan.ScoredDevice `json:"scored"`
	InsufficientData []string            `json:"insufficient_data"`
	DurationMs       int64               `json:"duration_ms"`
	Timestamp        time.Time           `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

// handleReady handles readiness check requests. Ready means the store is
// reachable; the pipeline itself is stateless.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, fmt.Sprintf("store unavailable: %v", err))
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleRuns handles POST /api/v1/runs (trigger a run) and GET /api/v1/runs
// (list run history).
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleTriggerRun(w, r)
	case http.MethodGet:
		s.handleListRuns(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}

	started := time.Now()
	result, err := s.pipeline.Run(r.Context(), req.Records, s.detectorOptions(req.Options))
	if err != nil {
		var cfgErr *scan.ConfigurationError
		var malformed *scan.MalformedInputError
		var insufficient *scan.InsufficientDataError
		switch {
		case errors.As(err, &cfgErr), errors.As(err, &malformed):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.As(err, &insufficient):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		if s.audit != nil {
			_ = s.audit.LogRunFailed(r.Context(), "", err)
		}
		return
	}

	s.persistRun(r, req, result, started)
	s.hub.broadcastRunCompleted(result)

	if s.audit != nil {
		_ = s.audit.LogRunCompleted(r.Context(), result.RunID, len(result.Anomalous), result.Duration)
		for _, d := range result.Scored {
			if d.IsAnomaly {
				_ = s.audit.LogAnomalyFlagged(r.Context(), result.RunID, d.DeviceID, d.NormalizedScore)
			}
		}
	}

	insufficientIDs := make([]string, 0, len(result.InsufficientData))
	for _, f := range result.InsufficientData {
		insufficientIDs = append(insufficientIDs, f.DeviceID)
	}

	writeJSON(w, http.StatusOK, RunResponse{
		RunID:            result.RunID,
		Anomalous:        result.Anomalous,
		Scored:           result.Scored,
		InsufficientData: insufficientIDs,
		DurationMs:       result.Duration.Milliseconds(),
		Timestamp:        time.Now().UTC(),
	})
}

// persistRun writes the run, its scores, and the raw records to the store.
// Persistence failures are logged, not surfaced; the caller already has the
// in-memory result.
func (s *Server) persistRun(r *http.Request, req RunRequest, result *analytics.Result, started time.Time) {
	if s.store == nil {
		return
	}
	ctx := r.Context()

	runRec := &db.RunRecord{
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
	}
	if err := s.store.SaveRun(ctx, runRec); err != nil {
		s.logger.Error("persist run failed", zap.String("run_id", result.RunID), zap.Error(err))
		return
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
	if err := s.store.SaveDeviceScores(ctx, result.RunID, scores); err != nil {
		s.logger.Error("persist device scores failed", zap.String("run_id", result.RunID), zap.Error(err))
	}

	source := req.Source
	if source == "" {
		source = "api"
	}
	rows := make([]*db.ScanRow, len(req.Records))
	for i, rec := range req.Records {
		rows[i] = &db.ScanRow{
			DeviceID:          rec.DeviceID,
			ScanID:            rec.ScanID,
			ProcessName:       rec.ProcessName,
			ReportedProcCount: rec.ReportedProcCount,
			Source:            source,
			Timestamp:         rec.Timestamp,
		}
	}
	if err := s.store.AppendScanRows(ctx, rows); err != nil {
		s.logger.Error("persist scan records failed", zap.String("run_id", result.RunID), zap.Error(err))
		return
	}
	metrics.RecordsIngested.Add(float64(len(rows)))
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence not configured")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	runs, err := s.store.ListRuns(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []*db.RunRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}

// handleRunByID handles GET /api/v1/runs/{id} and GET /api/v1/runs/{id}/devices.
func (s *Server) handleRunByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence not configured")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/runs/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing run id")
		return
	}

	switch sub {
	case "":
		run, err := s.store.GetRun(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusNotFound, fmt.Sprintf("run %s not found", id))
			return
		}
		writeJSON(w, http.StatusOK, run)

	case "devices":
		scores, err := s.store.QueryDeviceScores(r.Context(), db.ScoreQuery{RunID: id})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if scores == nil {
			scores = []*db.DeviceScoreRecord{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"run_id":  id,
			"devices": scores,
			"count":   len(scores),
		})

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// handleAnomalies handles GET /api/v1/anomalies. Without a run_id it reports
// anomalies from the most recent run.
func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence not configured")
		return
	}

	runID := r.URL.Query().Get("run_id")
	if runID == "" {
		runs, err := s.store.ListRuns(r.Context(), 1, 0)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if len(runs) == 0 {
			writeJSON(w, http.StatusOK, map[string]any{"anomalies": []any{}, "count": 0})
			return
		}
		runID = runs[0].ID
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	anomalies, err := s.store.QueryDeviceScores(r.Context(), db.ScoreQuery{
		RunID:       runID,
		AnomalyOnly: true,
		Limit:       limit,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if anomalies == nil {
		anomalies = []*db.DeviceScoreRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":    runID,
		"anomalies": anomalies,
		"count":     len(anomalies),
	})
}
