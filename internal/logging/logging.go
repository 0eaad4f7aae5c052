// ABOUTME: Process logger construction on top of zerolog
// ABOUTME: Writes to the console and/or a log file and hands out component loggers
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Options configures the process logger
type Options struct {
	Level   string // debug, info, warn or error (default: info)
	File    string // Log file path, appended to. Empty disables file output.
	Console bool   // Also write human-readable output to stdout
	NoColor bool
}

// ParseLevel converts a level name to a zerolog level
func ParseLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return zerolog.InfoLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("unknown log level: %s", level)
	}
}

// New builds the process logger. The returned closer releases the log file
// and is safe to call when no file was opened. The standard library logger
// is redirected to the result so dependencies that log through it end up in
// the same place.
func New(opts Options) (zerolog.Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return zerolog.Nop(), nopCloser{}, err
	}

	var writers []io.Writer
	var closer io.Closer = nopCloser{}

	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			return zerolog.Nop(), nopCloser{}, fmt.Errorf("error opening log file: %w", err)
		}
		writers = append(writers, f)
		closer = f
	}
	if opts.Console || len(writers) == 0 {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05.000",
			NoColor:    opts.NoColor,
		})
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Logger()

	log.SetFlags(0)
	log.SetOutput(logger)

	return logger, closer, nil
}

// Component returns a child logger tagged with component=name, ready to
// pass into a library Config
func Component(logger zerolog.Logger, name string) *zerolog.Logger {
	l := logger.With().Str("component", name).Logger()
	return &l
}

// StdLogger wraps logger for libraries that take a *log.Logger
func StdLogger(logger zerolog.Logger, name string) *log.Logger {
	return log.New(Component(logger, name), "", 0)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
