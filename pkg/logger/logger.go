package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

type contextKey string

const (
	RequestIDKey     contextKey = "request_id"
	ServiceKey       contextKey = "service"
	AppointmentIDKey contextKey = "appointment_id"
)

var defaultLogger *slog.Logger

func init() {
	defaultLogger = newLogger(os.Stdout, os.Getenv("LOG_LEVEL"))
}

// Init replaces the process logger. It is called once by the CLI after the
// configuration is loaded.
func Init(level string) {
	defaultLogger = newLogger(os.Stdout, level)
}

// SetOutput redirects the process logger, mainly for tests.
func SetOutput(w io.Writer, level string) {
	defaultLogger = newLogger(w, level)
}

func newLogger(w io.Writer, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func Default() *slog.Logger {
	return defaultLogger
}

func WithContext(ctx context.Context) *slog.Logger {
	logger := defaultLogger

	if requestID := ctx.Value(RequestIDKey); requestID != nil {
		logger = logger.With("request_id", requestID)
	}

	if service := ctx.Value(ServiceKey); service != nil {
		logger = logger.With("service", service)
	}

	if id := ctx.Value(AppointmentIDKey); id != nil {
		logger = logger.With("appointment_id", id)
	}

	return logger
}

// WithAppointment tags every later *Context log line with the appointment id.
func WithAppointment(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, AppointmentIDKey, id)
}

// MaskEmail keeps the first character of the local part and the domain:
// "jane@x.com" becomes "j***@x.com".
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}

func Info(msg string, args ...any) {
	defaultLogger.Info(msg, args...)
}

func Error(msg string, args ...any) {
	defaultLogger.Error(msg, args...)
}

func Debug(msg string, args ...any) {
	defaultLogger.Debug(msg, args...)
}

func Warn(msg string, args ...any) {
	defaultLogger.Warn(msg, args...)
}

func InfoContext(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Info(msg, args...)
}

func ErrorContext(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Error(msg, args...)
}

func DebugContext(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Debug(msg, args...)
}

func WarnContext(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Warn(msg, args...)
}
