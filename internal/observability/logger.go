package observability

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/piwi3910/webapp/internal/config"
)

// loggerContextKey is the context key for storing logger instances.
type loggerContextKey struct{}

// NewLogger builds the service logger from the logging configuration.
//
// Every record is written to each enabled sink: the console, the combined
// file and, for error level and above, the error file. File sinks are
// buffered and flushed on an interval so callers never block on disk.
// The returned cleanup func flushes and closes all sinks.
func NewLogger(cfg config.LoggingConfig, env, service string) (*zap.Logger, func(), error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level: %w", err)
	}

	var (
		cores    []zapcore.Core
		closers  []func()
		buffered []*zapcore.BufferedWriteSyncer
	)

	closeAll := func() {
		for _, ws := range buffered {
			_ = ws.Stop()
		}
		for _, closeFn := range closers {
			closeFn()
		}
	}

	if cfg.Console {
		cores = append(cores, zapcore.NewCore(
			consoleEncoder(cfg.Format, env),
			zapcore.Lock(os.Stdout),
			level,
		))
	}

	files := []struct {
		path  string
		level zapcore.LevelEnabler
	}{
		{path: cfg.CombinedFile, level: level},
		{path: cfg.ErrorFile, level: zapcore.ErrorLevel},
	}
	for _, file := range files {
		if file.path == "" {
			continue
		}

		ws, closeFn, err := openSink(file.path)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, closeFn)

		bws := &zapcore.BufferedWriteSyncer{
			WS:            ws,
			Size:          cfg.BufferSize,
			FlushInterval: cfg.FlushInterval,
		}
		buffered = append(buffered, bws)
		cores = append(cores, zapcore.NewCore(jsonEncoder(), bws, file.level))
	}

	if len(cores) == 0 {
		return zap.NewNop(), func() {}, nil
	}

	logger := zap.New(
		zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.ErrorOutput(zapcore.Lock(os.Stderr)),
	).With(zap.String("service", service))

	cleanup := func() {
		_ = logger.Sync()
		closeAll()
	}

	return logger, cleanup, nil
}

// openSink creates the parent directory and opens the file for appending.
func openSink(path string) (zapcore.WriteSyncer, func(), error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
		}
	}

	ws, closeFn, err := zap.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	return ws, closeFn, nil
}

func consoleEncoder(format, env string) zapcore.Encoder {
	if format == "console" || env == config.EnvDevelopment || env == config.EnvTest {
		encoderConfig := zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(encoderConfig)
	}
	return jsonEncoder()
}

func jsonEncoder() zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewJSONEncoder(encoderConfig)
}

// ContextWithLogger adds the logger to the context.
func ContextWithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, logger)
}

// LoggerFromContext retrieves the logger from context.
// Returns a no-op logger if none was attached.
func LoggerFromContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(loggerContextKey{}).(*zap.Logger); ok {
		return logger
	}
	return zap.NewNop()
}

// RequestRecord is the structured summary of one completed request.
type RequestRecord struct {
	Method        string
	URL           string
	Route         string
	Status        int
	Duration      time.Duration
	UserAgent     string
	ClientIP      string
	CorrelationID string
	Bytes         int
	Err           error
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (r RequestRecord) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("method", r.Method)
	enc.AddString("url", r.URL)
	enc.AddString("route", r.Route)
	enc.AddInt("status", r.Status)
	enc.AddString("duration", fmt.Sprintf("%dms", r.Duration.Milliseconds()))
	enc.AddFloat64("duration_seconds", r.Duration.Seconds())
	enc.AddString("userAgent", r.UserAgent)
	enc.AddString("ip", r.ClientIP)
	enc.AddString("correlationId", r.CorrelationID)
	enc.AddInt("bytes", r.Bytes)
	if r.Err != nil {
		enc.AddString("error", r.Err.Error())
	}
	return nil
}

// RequestLogger emits one record per completed request.
type RequestLogger struct {
	logger *zap.Logger
}

// NewRequestLogger creates a request logger on top of the given logger.
func NewRequestLogger(logger *zap.Logger) *RequestLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RequestLogger{logger: logger.Named("http")}
}

// Log writes the record. Server errors are logged at error level so they
// also reach the error sink; client errors at warn.
func (l *RequestLogger) Log(rec RequestRecord) {
	level := zapcore.InfoLevel
	switch {
	case rec.Status >= 500 || (rec.Err != nil && !errors.Is(rec.Err, context.Canceled)):
		level = zapcore.ErrorLevel
	case rec.Status >= 400:
		level = zapcore.WarnLevel
	}

	if ce := l.logger.Check(level, "HTTP Request"); ce != nil {
		ce.Write(zap.Inline(rec))
	}
}
