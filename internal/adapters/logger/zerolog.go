// Package logger adapts zerolog to ports.Logger.
package logger

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// ZerologLogger implements the ports.Logger interface with structured JSON output.
type ZerologLogger struct {
	logger zerolog.Logger
}

// ParseLevel converts a level name to a zerolog level, defaulting to info.
func ParseLevel(levelStr string) zerolog.Level {
	s := strings.ToLower(strings.TrimSpace(levelStr))
	if s == "warning" {
		s = "warn"
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || s == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

// New creates a logger writing JSON lines to os.Stdout.
func New(level zerolog.Level) *ZerologLogger {
	return NewWithWriter(os.Stdout, level)
}

// NewWithWriter creates a logger writing JSON lines to w.
func NewWithWriter(w io.Writer, level zerolog.Level) *ZerologLogger {
	return &ZerologLogger{
		logger: zerolog.New(w).With().Timestamp().Logger().Level(level),
	}
}

func (l *ZerologLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	write(l.logger.Debug(), msg, fields)
}

func (l *ZerologLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	write(l.logger.Info(), msg, fields)
}

func (l *ZerologLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	write(l.logger.Warn(), msg, fields)
}

func (l *ZerologLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	write(l.logger.Error().Err(err), msg, fields)
}

// write merges the field maps into the event; later maps win on duplicate keys.
func write(ev *zerolog.Event, msg string, fields []map[string]interface{}) {
	if ev == nil {
		return // level disabled
	}
	for _, f := range fields {
		if len(f) > 0 {
			ev = ev.Fields(f)
		}
	}
	ev.Msg(msg)
}
