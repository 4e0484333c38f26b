package telemetry

import (
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
)

// Logger is a zerolog logger carrying environment, flow, run and task fields.
// Loggers are immutable; every With method returns a child.
type Logger struct {
	zlog zerolog.Logger
}

// NewLogger writes to w at the configured level, as JSON or through a console writer.
func NewLogger(cfg LoggingConfig, w io.Writer) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	if cfg.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	zctx := zerolog.New(w).Level(level).With().Timestamp()
	if cfg.Caller {
		zctx = zctx.Caller()
	}
	return &Logger{zlog: zctx.Logger()}, nil
}

// NewLoggerFromZerolog wraps an existing zerolog logger.
func NewLoggerFromZerolog(zlog zerolog.Logger) *Logger {
	return &Logger{zlog: zlog}
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

func (l *Logger) with(fn func(zerolog.Context) zerolog.Context) *Logger {
	return &Logger{zlog: fn(l.zlog.With()).Logger()}
}

// NewComponentLogger tags every entry with component.
func (l *Logger) NewComponentLogger(component string) *Logger {
	return l.WithField("component", component)
}

// WithField adds one field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Interface(key, value) })
}

func (l *Logger) WithEnvironmentID(id string) *Logger { return l.WithField("environment_id", id) }
func (l *Logger) WithFlow(name string) *Logger { return l.WithField("flow", name) }
func (l *Logger) WithRunID(id string) *Logger { return l.WithField("run_id", id) }
func (l *Logger) WithTask(name string) *Logger { return l.WithField("task", name) }

// WithError attaches err under the "error" key.
func (l *Logger) WithError(err error) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Err(err) })
}

func (l *Logger) Debug(msg string) { l.zlog.Debug().Msg(msg) }
func (l *Logger) Debugf(format string, args ...interface{}) { l.zlog.Debug().Msgf(format, args...) }
func (l *Logger) Info(msg string) { l.zlog.Info().Msg(msg) }
func (l *Logger) Infof(format string, args ...interface{}) { l.zlog.Info().Msgf(format, args...) }
func (l *Logger) Warn(msg string) { l.zlog.Warn().Msg(msg) }
func (l *Logger) Warnf(format string, args ...interface{}) { l.zlog.Warn().Msgf(format, args...) }
func (l *Logger) Error(msg string) { l.zlog.Error().Msg(msg) }
