package logging

import (
	"log/slog"
	"os"
	"strings"
)

// New returns a JSON logger writing to stdout with a service attribute baked
// in.
func New(service string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With("service", service)
}

// NewWithBroker returns a JSON logger that additionally publishes every
// record to the given broker so API clients can follow engine activity over
// SSE.
func NewWithBroker(service string, level slog.Level, broker *Broker) *slog.Logger {
	json := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(NewBrokerHandler(json, broker)).With("service", service)
}

// NewExecutionLogger derives a logger scoped to one rollback execution. The
// attributes let the broker handler route records to execution-specific
// subscribers.
func NewExecutionLogger(logger *slog.Logger, deploymentID, executionID string) *slog.Logger {
	return logger.With("deployment_id", deploymentID, "execution_id", executionID)
}

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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
