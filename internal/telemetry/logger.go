// Package telemetry builds the process-wide logger and metrics registry,
// replacing the source's ambient singletons with values passed explicitly
// into constructors (spec.md §9 design note on global mutable state).
package telemetry

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds a zerolog.Logger writing human-readable console output
// when pretty is true (local development) or newline-delimited JSON
// otherwise (production), matching how the pack's trading bots (e.g.
// zhanxin-xu-nofx) switch console/JSON output by environment.
func NewLogger(pretty bool, level string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	var w = os.Stdout
	if pretty {
		return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}).
			Level(lvl).
			With().Timestamp().Logger()
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}
