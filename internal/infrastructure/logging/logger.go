package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/dunbridge/internal/infrastructure/config"
)

const serviceName = "dunbridge"

const redacted = "[redacted]"

// secretKeys are attribute keys whose values never reach the output.
var secretKeys = map[string]bool{
	"password": true,
	"token":    true,
}

// Logger is the process logger. Every entry carries the service name and
// build version; component loggers add a "component" attribute.
type Logger struct {
	*slog.Logger
}

// New builds the logger described by the logging section of config.yaml.
func New(cfg config.LoggingConfig, version string) *Logger {
	return newLogger(cfg, version, outputFor(cfg.Output))
}

// Bootstrap is used until configuration has been loaded. It writes text to
// stderr so early failures stay readable when stdout is piped.
func Bootstrap() *Logger {
	return newLogger(config.LoggingConfig{Level: "info", Format: "text"}, "dev", os.Stderr)
}

func newLogger(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{
		Level:       levelFor(cfg.Level),
		ReplaceAttr: hideSecrets,
	}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}

	return &Logger{Logger: slog.New(h).With("service", serviceName, "version", version)}
}

// Component returns a child logger tagged with the subsystem name, e.g.
// "bridge", "mqtt" or "api".
func (l *Logger) Component(name string) *Logger {
	return &Logger{Logger: l.Logger.With("component", name)}
}

func outputFor(name string) io.Writer {
	if strings.EqualFold(name, "stderr") {
		return os.Stderr
	}
	return os.Stdout
}

// levelFor maps a config level to slog. Unknown values fall back to info.
func levelFor(name string) slog.Level {
	switch strings.ToLower(name) {
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

func hideSecrets(_ []string, a slog.Attr) slog.Attr {
	if secretKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, redacted)
	}
	return a
}
