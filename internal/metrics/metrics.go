package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Analysis pipeline metrics for production monitoring
var (
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetsight_runs_total",
			Help: "Total number of analysis runs",
		},
		[]string{"status"}, // status: completed/failed
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetsight_run_duration_seconds",
			Help:    "Analysis run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
	)

	RecordsIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetsight_records_ingested_total",
			Help: "Total number of scan records ingested",
		},
	)

	DevicesScored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetsight_devices_scored_total",
			Help: "Total number of devices scored by the ensemble",
		},
	)

	AnomaliesFlagged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetsight_anomalies_flagged_total",
			Help: "Total number of devices classified as anomalous",
		},
	)

	InsufficientDataDevices = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetsight_insufficient_data_devices_total",
			Help: "Total number of devices excluded from scoring for insufficient data",
		},
	)

	// WebSocket metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetsight_websocket_connections",
			Help: "Current number of active WebSocket connections",
		},
	)
)
