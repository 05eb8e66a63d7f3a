package observability

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/couchcryptid/storm-nowcast-service/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger builds the service logger from LOG_LEVEL and LOG_FORMAT. When
// LOG_FILE is set, records are also written to a size-rotated file.
func NewLogger(cfg *config.Config) *slog.Logger {
	var w io.Writer = os.Stdout
	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
			slog.Warn("log directory unavailable, logging to stdout only", "path", cfg.LogFile, "error", err)
		} else {
			w = io.MultiWriter(os.Stdout, &lumberjack.Logger{
				Filename:   cfg.LogFile,
				MaxSize:    cfg.LogMaxSizeMB,
				MaxBackups: cfg.LogMaxBackups,
				MaxAge:     cfg.LogMaxAgeDays,
				Compress:   true,
			})
		}
	}
	return newLogger(w, cfg.LogLevel, cfg.LogFormat)
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var h slog.Handler
	if format == "text" {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(h).With("service", "storm-nowcast")
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
