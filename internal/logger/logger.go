package logger

import (
	"log/slog"
	"os"
	"path/filepath"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation settings for the application log.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Config describes the esphomed application log (not the dashboard's own
// log file, which the daemon owns and truncates on every start).
// Rotation parameters follow lumberjack semantics.
type Config struct {
	Dir        string `mapstructure:"dir"`          // directory for esphomed.log; empty = console only
	Level      string `mapstructure:"level"`        // debug, info, warn, error (default info)
	MaxSizeMB  int    `mapstructure:"max_size_mb"`  // megabytes before rotation (default 10)
	MaxBackups int    `mapstructure:"max_backups"`  // backups to keep (default 3)
	MaxAgeDays int    `mapstructure:"max_age_days"` // days to keep (default 7)
	Compress   bool   `mapstructure:"compress"`     // gzip rotated files
}

// Setup builds the process-wide slog.Logger: a colored text handler on
// stderr, plus a rotating JSON file when Dir is set. It also installs the
// logger as slog's default.
func Setup(c Config) *slog.Logger {
	level := parseLevel(c.Level)
	opts := &slog.HandlerOptions{Level: level}

	handlers := []slog.Handler{NewColorTextHandler(os.Stderr, opts)}
	if c.Dir != "" {
		_ = os.MkdirAll(c.Dir, 0o750)
		w := &lj.Logger{
			Filename:   filepath.Join(c.Dir, "esphomed.log"),
			MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
			MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
			Compress:   c.Compress,
		}
		handlers = append(handlers, slog.NewJSONHandler(w, opts))
	}

	var l *slog.Logger
	if len(handlers) == 1 {
		l = slog.New(handlers[0])
	} else {
		l = slog.New(multiHandler(handlers))
	}
	slog.SetDefault(l)
	return l
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

func valOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
