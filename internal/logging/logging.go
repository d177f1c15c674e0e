// Package logging provides structured logging with zap.
package logging

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type contextKey struct{}

var globalLogger *zap.Logger

// Config holds logging configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	OutputPath string // stdout, stderr, or file path
}

// Init initializes the global logger.
func Init(cfg Config) error {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	if cfg.Format == "console" {
		config = zap.NewDevelopmentConfig()
	}
	config.Level = zap.NewAtomicLevelAt(level)
	if cfg.OutputPath != "" {
		config.OutputPaths = []string{cfg.OutputPath}
	}

	logger, err := config.Build(
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		return err
	}
	globalLogger = logger
	return nil
}

// InitDefault initializes with default production settings.
func InitDefault() {
	logger, _ := zap.NewProduction(zap.AddCallerSkip(1))
	globalLogger = logger
}

// Sync flushes any buffered log entries.
func Sync() error {
	if globalLogger != nil {
		return globalLogger.Sync()
	}
	return nil
}

func logger() *zap.Logger {
	if globalLogger == nil {
		InitDefault()
	}
	return globalLogger
}

// Debug logs a debug message.
func Debug(msg string, fields ...zap.Field) { logger().Debug(msg, fields...) }

// Info logs an info message.
func Info(msg string, fields ...zap.Field) { logger().Info(msg, fields...) }

// Warn logs a warning message.
func Warn(msg string, fields ...zap.Field) { logger().Warn(msg, fields...) }

// Error logs an error message.
func Error(msg string, fields ...zap.Field) { logger().Error(msg, fields...) }

// request carries the per-request fields a handler adds for the completion
// log line.
type request struct {
	id string

	mu     sync.Mutex
	fields []zap.Field
}

// Annotate attaches fields (library, object key, bytes served) to the
// completion log line of the request carried by ctx. It is a no-op outside
// Middleware.
func Annotate(ctx context.Context, fields ...zap.Field) {
	req, ok := ctx.Value(contextKey{}).(*request)
	if !ok {
		return
	}
	req.mu.Lock()
	req.fields = append(req.fields, fields...)
	req.mu.Unlock()
}

// RequestID returns the ID Middleware assigned to the request in ctx.
func RequestID(ctx context.Context) string {
	if req, ok := ctx.Value(contextKey{}).(*request); ok {
		return req.id
	}
	return ""
}

// responseWriter wraps http.ResponseWriter to capture status and size.
type responseWriter struct {
	http.ResponseWriter
	status int
	size   int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.size += int64(n)
	return n, err
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware assigns every request an X-Request-ID and logs one line when
// it completes, including any fields added with Annotate.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		req := &request{id: r.Header.Get("X-Request-ID")}
		if req.id == "" {
			req.id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", req.id)

		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r.WithContext(context.WithValue(r.Context(), contextKey{}, req)))

		req.mu.Lock()
		fields := append([]zap.Field{
			zap.String("request_id", req.id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rw.status),
			zap.Int64("size", rw.size),
			zap.Duration("duration", time.Since(start)),
		}, req.fields...)
		req.mu.Unlock()

		if rw.status >= http.StatusInternalServerError {
			logger().Warn("request failed", fields...)
			return
		}
		logger().Info("request completed", fields...)
	})
}
