package log

import (
	"github.com/rs/zerolog"
	"os"
)

var (
	Logger = zerolog.New(os.Stderr).With().Timestamp().Stack().Logger()
)

// Component returns a child of Logger tagged with the given component name, at Info level.
func Component(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger().Level(zerolog.InfoLevel)
}
