package telemetry

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger with aurora-specific component tagging.
type Logger struct {
	zlog zerolog.Logger
}

// NewLogger creates a new logger from the given configuration.
func NewLogger(cfg LoggingConfig) (*Logger, error) {
	var writer io.Writer
	switch cfg.Output {
	case "", "stderr":
		writer = os.Stderr
	case "stdout":
		writer = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, err
		}
		writer = file
	}

	if cfg.Format != "json" {
		writer = zerolog.ConsoleWriter{Out: writer, NoColor: false}
	}

	zlog := zerolog.New(writer).With().Timestamp().Logger().Level(parseLogLevel(cfg.Level))
	if cfg.EnableCaller {
		zlog = zlog.With().Caller().Logger()
	}

	return &Logger{zlog: zlog}, nil
}

// NewComponentLogger returns a child logger tagged with a component field,
// matching the per-package logger convention used throughout aurora
// (pkg/downloader, pkg/executor, pkg/repomanager, ...).
func (l *Logger) NewComponentLogger(component string) *Logger {
	return &Logger{zlog: l.zlog.With().Str("component", component).Logger()}
}

// WithField returns a logger with a single additional structured field.
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{zlog: l.zlog.With().Interface(key, value).Logger()}
}

// WithError returns a logger with error context attached.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{zlog: l.zlog.With().Err(err).Logger()}
}

func (l *Logger) Debug(msg string)                          { l.zlog.Debug().Msg(msg) }
func (l *Logger) Debugf(format string, args ...any)          { l.zlog.Debug().Msgf(format, args...) }
func (l *Logger) Info(msg string)                            { l.zlog.Info().Msg(msg) }
func (l *Logger) Infof(format string, args ...any)           { l.zlog.Info().Msgf(format, args...) }
func (l *Logger) Warn(msg string)                            { l.zlog.Warn().Msg(msg) }
func (l *Logger) Warnf(format string, args ...any)           { l.zlog.Warn().Msgf(format, args...) }
func (l *Logger) Error(msg string)                           { l.zlog.Error().Msg(msg) }
func (l *Logger) Errorf(format string, args ...any)          { l.zlog.Error().Msgf(format, args...) }

// Nop returns a logger that discards everything, used as a safe default for
// components constructed without an explicit logger (e.g. in tests).
func Nop() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}
