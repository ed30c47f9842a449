package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger defines the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *Event) error

	// LogRun logs analysis-run lifecycle events
	LogRunStarted(ctx context.Context, runID, source string) error
	LogRunCompleted(ctx context.Context, runID string, anomalies int, duration time.Duration) error
	LogRunFailed(ctx context.Context, runID string, err error) error

	// LogAnomalyFlagged logs a device classified as anomalous
	LogAnomalyFlagged(ctx context.Context, runID, deviceID string, normalizedScore float64) error

	// LogDataIngested logs a batch of scan records entering the store
	LogDataIngested(ctx context.Context, source string, records int) error

	// Sync flushes buffered log entries
	Sync() error

	// Close closes the audit logger
	Close() error
}

// Config represents audit logger configuration
type Config struct {
	// AuditLogPath is the path to the audit log file
	AuditLogPath string

	// AppLogPath is the path to the application log file
	AppLogPath string

	// MaxSize is the maximum size in megabytes before rotation
	MaxSize int

	// MaxBackups is the maximum number of old log files to retain
	MaxBackups int

	// MaxAge is the maximum number of days to retain old log files
	MaxAge int

	// Compress determines if rotated files should be compressed
	Compress bool

	// LogLevel is the minimum log level (debug, info, warn, error)
	LogLevel string
}

// DefaultConfig returns default audit logger configuration
func DefaultConfig() *Config {
	return &Config{
		AuditLogPath: "logs/audit.log",
		AppLogPath:   "logs/app.log",
		MaxSize:      100, // megabytes
		MaxBackups:   10,
		MaxAge:       30, // days
		Compress:     true,
		LogLevel:     "info",
	}
}

// auditLogger implements the Logger interface
type auditLogger struct {
	appLogger   *zap.Logger
	auditLogger *zap.Logger
	config      *Config
	mu          sync.Mutex
	buffer      []*Event
	flushTicker *time.Ticker
	stopCh      chan struct{}
}

// NewLogger creates a new audit logger
func NewLogger(config *Config) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	level, err := zapcore.ParseLevel(config.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", config.LogLevel, err)
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	// Application logger with rotation
	appRotator := &lumberjack.Logger{
		Filename:   config.AppLogPath,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}

	appCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(appRotator),
		level,
	)

	appLogger := zap.New(appCore, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	// Audit logger with rotation (always INFO level, append-only)
	auditRotator := &lumberjack.Logger{
		Filename:   config.AuditLogPath,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}

	auditCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(auditRotator),
		zapcore.InfoLevel,
	)

	auditZapLogger := zap.New(auditCore)

	logger := &auditLogger{
		appLogger:   appLogger,
		auditLogger: auditZapLogger,
		config:      config,
		buffer:      make([]*Event, 0, 100),
		flushTicker: time.NewTicker(1 * time.Second),
		stopCh:      make(chan struct{}),
	}

	go logger.autoFlush()

	return logger, nil
}

// AppLogger exposes the application zap logger so other components share the
// same sink and rotation policy.
func AppLogger(l Logger) *zap.Logger {
	if al, ok := l.(*auditLogger); ok {
		return al.appLogger
	}
	return zap.NewNop()
}

// Log logs an audit event
func (l *auditLogger) Log(ctx context.Context, event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buffer = append(l.buffer, event)

	if len(l.buffer) >= 100 {
		return l.flushLocked()
	}

	return nil
}

// flushLocked flushes the buffer (caller must hold lock)
func (l *auditLogger) flushLocked() error {
	if len(l.buffer) == 0 {
		return nil
	}

	for _, event := range l.buffer {
		eventJSON, err := json.Marshal(event)
		if err != nil {
			l.appLogger.Error("failed to marshal audit event",
				zap.Error(err),
				zap.String("event_type", string(event.EventType)),
			)
			continue
		}

		l.auditLogger.Info(string(eventJSON),
			zap.String("run_id", event.RunID),
			zap.String("event_type", string(event.EventType)),
			zap.String("result", string(event.Result)),
		)
	}

	l.buffer = l.buffer[:0]

	return nil
}

// autoFlush periodically flushes the buffer
func (l *auditLogger) autoFlush() {
	for {
		select {
		case <-l.flushTicker.C:
			l.mu.Lock()
			_ = l.flushLocked()
			l.mu.Unlock()
		case <-l.stopCh:
			return
		}
	}
}

// LogRunStarted logs when an analysis run starts
func (l *auditLogger) LogRunStarted(ctx context.Context, runID, source string) error {
	event := NewEvent(EventRunStarted).
		WithRunID(runID).
		WithSource(source).
		WithResult(ResultPending).
		WithDescription(fmt.Sprintf("Analysis run %s started", runID))

	return l.Log(ctx, event)
}

// LogRunCompleted logs when an analysis run completes
func (l *auditLogger) LogRunCompleted(ctx context.Context, runID string, anomalies int, duration time.Duration) error {
	event := NewEvent(EventRunCompleted).
		WithRunID(runID).
		WithResult(ResultSuccess).
		WithDuration(duration).
		WithMetadata("anomalies", anomalies).
		WithDescription(fmt.Sprintf("Analysis run %s completed with %d anomalies", runID, anomalies))

	return l.Log(ctx, event)
}

// LogRunFailed logs when an analysis run fails
func (l *auditLogger) LogRunFailed(ctx context.Context, runID string, err error) error {
	event := NewEvent(EventRunFailed).
		WithRunID(runID).
		WithError(err).
		WithDescription(fmt.Sprintf("Analysis run %s failed", runID))

	return l.Log(ctx, event)
}

// LogAnomalyFlagged logs a device classified as anomalous
func (l *auditLogger) LogAnomalyFlagged(ctx context.Context, runID, deviceID string, normalizedScore float64) error {
	event := NewEvent(EventAnomalyFlagged).
		WithRunID(runID).
		WithDevice(deviceID).
		WithResult(ResultSuccess).
		WithMetadata("normalized_score", normalizedScore).
		WithDescription(fmt.Sprintf("Device %s flagged as anomalous", deviceID))

	return l.Log(ctx, event)
}

// LogDataIngested logs a batch of scan records entering the store
func (l *auditLogger) LogDataIngested(ctx context.Context, source string, records int) error {
	event := NewEvent(EventDataIngested).
		WithSource(source).
		WithResult(ResultSuccess).
		WithMetadata("records", records).
		WithDescription(fmt.Sprintf("Ingested %d scan records from %s", records, source))

	return l.Log(ctx, event)
}

// Sync flushes buffered log entries
func (l *auditLogger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.flushLocked(); err != nil {
		return err
	}

	if err := l.auditLogger.Sync(); err != nil {
		return err
	}

	return l.appLogger.Sync()
}

// Close closes the audit logger
func (l *auditLogger) Close() error {
	close(l.stopCh)
	l.flushTicker.Stop()

	if err := l.Sync(); err != nil {
		return err
	}

	return nil
}
