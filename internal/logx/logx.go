// Package logx builds the loggers used by the store and the CLI. Every
// subsystem logs through a component-tagged child of one root logger, so
// store, catalog and import events are distinguishable in mixed output.
package logx

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New returns the root console logger. The level defaults to info and can
// be overridden with the POSITIONAL_LOG environment variable (debug, info,
// warn, error).
func New(w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}

	level := zerolog.InfoLevel
	if s := os.Getenv("POSITIONAL_LOG"); s != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(s)); err == nil {
			level = parsed
		}
	}

	out := zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// Component returns a child logger tagged for one subsystem, e.g.
// "store", "import", "gc".
func Component(parent zerolog.Logger, name string) zerolog.Logger {
	return parent.With().Str("component", name).Logger()
}
