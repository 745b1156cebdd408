// Package logging builds the zerolog logger shared by the client components
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// LevelEnv names the environment variable selecting the log level
const LevelEnv = "LOG_LEVEL"

// New creates a logger writing JSON lines to w at the level named by
// LOG_LEVEL. Unset or unknown levels fall back to info.
func New(w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(os.Getenv(LevelEnv))))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(level).With().
		Timestamp().
		Str("component", "cybersource-auth-client").
		Logger()
}
