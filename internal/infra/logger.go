package infra

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger aliases the zerolog.Logger so the managers can depend on the logging
// contract without importing the third-party module directly.
type Logger = zerolog.Logger

// NewLogger constructs a logger writing to stderr so that command output on
// stdout stays machine readable. Development builds get a console writer and
// debug level.
func NewLogger(appEnv string) Logger {
	return NewLoggerTo(os.Stderr, appEnv)
}

// NewLoggerTo is NewLogger with an explicit destination.
func NewLoggerTo(w io.Writer, appEnv string) Logger {
	level := zerolog.InfoLevel
	if appEnv == "development" {
		level = zerolog.DebugLevel
	}
	if appEnv == "development" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// Component returns l, or a discard logger when l is nil, tagged with the
// component name.
func Component(l *Logger, name string) Logger {
	if l == nil {
		return zerolog.Nop()
	}
	return l.With().Str("component", name).Logger()
}
