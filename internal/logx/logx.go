// Package logx wraps zerolog with the small set of loggers this module
// needs: one per connection-scoped component, each pre-tagged with a
// component name the way rpc25519's debug prints are pre-tagged by file.
package logx

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

var base = zerolog.New(zerolog.ConsoleWriter{
	Out:        os.Stderr,
	TimeFormat: time.RFC3339,
}).With().Timestamp().Logger()

// SetOutput redirects loggers created by later calls to New; loggers New
// already returned keep their previous writer. Primarily for tests that
// want to assert on emitted log lines instead of writing to stderr.
func SetOutput(w zerolog.ConsoleWriter) {
	base = zerolog.New(w).With().Timestamp().Logger()
}

// New returns a logger tagged with the given component name, e.g.
// "bridge", "gateway", "handshake".
func New(component string) zerolog.Logger {
	return base.With().Str("component", component).Logger()
}
