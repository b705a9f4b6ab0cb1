// Package logging configures the process-wide structured logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Options controls logger construction.
type Options struct {
	Level             string // DEBUG, INFO, WARNING, ERROR
	EnableFileLogging bool
	DataDir           string
}

// Setup builds the root logger and installs it as the slog default.
// With file logging enabled, records go to both stderr and a dated
// file under <data_dir>/logs/.
func Setup(opts Options) (*slog.Logger, error) {
	var w io.Writer = os.Stderr

	if opts.EnableFileLogging {
		dir := filepath.Join(opts.DataDir, "logs")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		name := fmt.Sprintf("mcbridge_%s.log", time.Now().Format("20060102"))
		f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		w = io.MultiWriter(os.Stderr, f)
	}

	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(opts.Level),
	}))
	slog.SetDefault(logger)
	return logger, nil
}

// RawFrames derives the WebSocket payload-tracing logger. Records
// carry logger=websocket.raw so file output can be grepped apart from
// normal application logs.
func RawFrames(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("logger", "websocket.raw")
}

// ParseLevel maps a config level string to a slog level.
// Unknown values fall back to INFO.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARNING", "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
