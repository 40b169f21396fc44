package lib

import (
	"fmt"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

var logger *slog.Logger

func init() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, handlerOptions()))
}

func handlerOptions() *slog.HandlerOptions {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	return &slog.HandlerOptions{
		Level: level,
	}
}

// SetupLogger additionally sends log records as JSON to logFile, if it is set.
// The returned func closes the log file and restores the stderr-only logger.
func SetupLogger(logFile string) (func() error, error) {
	if logFile == "" {
		return func() error { return nil }, nil
	}
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", logFile, err)
	}
	opts := handlerOptions()
	stderrHandler := slog.NewTextHandler(os.Stderr, opts)
	logger = slog.New(slogmulti.Fanout(
		stderrHandler,
		slog.NewJSONHandler(f, opts),
	))
	return func() error {
		logger = slog.New(stderrHandler)
		return f.Close()
	}, nil
}
