// Package obs builds the process-wide structured logger. Unlike the
// teacher's internal/pkg/logger (a hand-rolled JSON writer), this wraps
// github.com/rs/zerolog, matching how defmans7-notifuse wires its logger —
// the pack has a real structured-logging library, so we use it rather than
// the teacher's stdlib-only one.
package obs

import (
	"os"

	"github.com/rs/zerolog"
)

// New builds a zerolog.Logger at the given level. In development mode it
// writes a human-readable console stream; otherwise newline-delimited JSON
// to stderr, matching how the teacher's server emits its own operational
// logs.
func New(level string, development bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var writer = os.Stderr
	if development {
		return zerolog.New(zerolog.ConsoleWriter{Out: writer, TimeFormat: "15:04:05"}).
			With().Timestamp().Logger()
	}
	return zerolog.New(writer).With().Timestamp().Logger()
}
