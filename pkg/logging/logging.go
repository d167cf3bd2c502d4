// Package logging builds the component loggers shared by the daemon and CLI.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options selects level and output format.
type Options struct {
	Level  string // trace, debug, info, warn, error
	Format string // json (default) or console
	Output io.Writer
}

// FromEnv reads LCMC_LOG_LEVEL and LCMC_LOG_FORMAT.
func FromEnv() Options {
	return Options{
		Level:  os.Getenv("LCMC_LOG_LEVEL"),
		Format: os.Getenv("LCMC_LOG_FORMAT"),
	}
}

// Root builds the process logger.
func Root(opts Options) zerolog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	if strings.EqualFold(opts.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// Component derives a logger tagged with the component name.
func Component(root zerolog.Logger, name string) zerolog.Logger {
	return root.With().Str("component", name).Logger()
}
