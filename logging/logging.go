// Package logging builds the program's slog.Logger and adapts it for the libraries
// that bring their own logger interfaces.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	cron "github.com/robfig/cron/v3"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (allowed: debug, info, warn, error)", s)
	}
}

// New returns a logger writing to w. The text format is colorized for a terminal;
// the JSON format is for log collectors.
func New(w io.Writer, format string, level slog.Level, app string) (*slog.Logger, error) {
	switch format {
	case FormatText:
		h := tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
		return slog.New(h), nil
	case FormatJSON:
		h := slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: level,
		})
		return slog.New(h).With("app", app), nil
	default:
		return nil, fmt.Errorf("invalid log format %q (allowed: %s, %s)", format, FormatText, FormatJSON)
	}
}

// CronLogger returns a cron.Logger that writes to l. cron's Info messages are
// frequent so they are logged at debug level.
func CronLogger(l *slog.Logger) cron.Logger {
	return cronLogger{l.With("component", "cron")}
}

type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(keysAndValues, "err", err)...)
}
