package audit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) Logger {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.AuditLogPath = filepath.Join(dir, "audit.log")
	cfg.AppLogPath = filepath.Join(dir, "app.log")

	logger, err := NewLogger(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = logger.Close() })
	return logger
}

func TestEventBuilders(t *testing.T) {
	event := NewEvent(EventRunCompleted).
		WithRunID("run-1").
		WithDevice("dev-a").
		WithSource("api").
		WithResult(ResultSuccess).
		WithDuration(1500 * time.Millisecond).
		WithMetadata("anomalies", 3).
		WithDescription("done")

	assert.Equal(t, EventRunCompleted, event.EventType)
	assert.Equal(t, "run-1", event.RunID)
	assert.Equal(t, "dev-a", event.DeviceID)
	assert.Equal(t, "api", event.Source)
	assert.Equal(t, ResultSuccess, event.Result)
	assert.Equal(t, int64(1500), event.DurationMs)
	assert.Equal(t, 3, event.Metadata["anomalies"])
	assert.Equal(t, "done", event.Description)
	assert.False(t, event.Timestamp.IsZero())
}

func TestEventWithError(t *testing.T) {
	event := NewEvent(EventRunFailed).WithError(errors.New("boom"))
	assert.Equal(t, "boom", event.Error)
	assert.Equal(t, ResultFailure, event.Result)

	// nil error leaves the event untouched
	event = NewEvent(EventRunFailed).WithError(nil)
	assert.Empty(t, event.Error)
	assert.Equal(t, ResultPending, event.Result)
}

func TestLoggerWritesAuditFile(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.AuditLogPath = filepath.Join(dir, "audit.log")
	cfg.AppLogPath = filepath.Join(dir, "app.log")

	logger, err := NewLogger(cfg)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, logger.LogRunStarted(ctx, "run-1", "cli"))
	require.NoError(t, logger.LogAnomalyFlagged(ctx, "run-1", "dev-a", 0.97))
	require.NoError(t, logger.LogRunCompleted(ctx, "run-1", 1, 2*time.Second))
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(cfg.AuditLogPath)
	require.NoError(t, err)

	out := string(data)
	assert.Contains(t, out, string(EventRunStarted))
	assert.Contains(t, out, string(EventAnomalyFlagged))
	assert.Contains(t, out, string(EventRunCompleted))
	assert.Contains(t, out, "dev-a")
	assert.Contains(t, out, "run-1")
}

func TestLoggerSyncFlushesBuffer(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.AuditLogPath = filepath.Join(dir, "audit.log")
	cfg.AppLogPath = filepath.Join(dir, "app.log")

	logger, err := NewLogger(cfg)
	require.NoError(t, err)
	defer logger.Close()

	require.NoError(t, logger.LogDataIngested(context.Background(), "csv", 42))
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(cfg.AuditLogPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), string(EventDataIngested))
}

func TestLoggerInvalidLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "shouting"

	_, err := NewLogger(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shouting")
}

func TestAppLoggerAccessor(t *testing.T) {
	logger := newTestLogger(t)
	assert.NotNil(t, AppLogger(logger))
}

func TestLogRunFailed(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.AuditLogPath = filepath.Join(dir, "audit.log")
	cfg.AppLogPath = filepath.Join(dir, "app.log")

	logger, err := NewLogger(cfg)
	require.NoError(t, err)

	require.NoError(t, logger.LogRunFailed(context.Background(), "run-9", errors.New("not enough devices")))
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(cfg.AuditLogPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "not enough devices")
	assert.Contains(t, string(data), string(ResultFailure))
}
