package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/nerrad567/gray-logic-knxip/internal/infrastructure/config"
)

// Logger is a slog.Logger whose level can be changed at runtime and which
// owns its log file, if any. It satisfies connection.Logger.
type Logger struct {
	*slog.Logger
	level  *slog.LevelVar
	closer io.Closer
}

// New returns the daemon logger, tagged service=knxipd.
func New(cfg config.LoggingConfig, version string) *Logger {
	return NewService("knxipd", cfg, version)
}

// NewService returns a logger tagged with the given service name.
func NewService(service string, cfg config.LoggingConfig, version string) *Logger {
	w, closer := writer(cfg)
	l := newLogger(w, service, cfg, version)
	l.closer = closer
	return l
}

func newLogger(w io.Writer, service string, cfg config.LoggingConfig, version string) *Logger {
	level := new(slog.LevelVar)
	level.Set(parseLevel(cfg.Level))
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	h = h.WithAttrs([]slog.Attr{
		slog.String("service", service),
		slog.String("version", version),
	})
	return &Logger{Logger: slog.New(h), level: level}
}

// writer resolves cfg.Output. Only file output has a closer.
func writer(cfg config.LoggingConfig) (io.Writer, io.Closer) {
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		return os.Stderr, nil
	case "file":
		lj := &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.MaxSize,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAge,
			Compress:   cfg.File.Compress,
		}
		return lj, lj
	default:
		return os.Stdout, nil
	}
}

// parseLevel maps debug, info, warn(ing) and error; anything else is info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// With returns a child logger carrying args. The child shares the parent's
// level and file.
//
//	linkLog := logger.With("component", "knxip")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), level: l.level, closer: l.closer}
}

// SetLevel changes the minimum level of l and every logger derived from it.
func (l *Logger) SetLevel(level string) {
	l.level.Set(parseLevel(level))
}

// Level returns the current minimum level.
func (l *Logger) Level() slog.Level {
	return l.level.Level()
}

// Close releases the log file. Close only the root logger; children share
// its file.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// Default is the JSON-to-stdout logger used until the config is loaded.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "dev")
}
