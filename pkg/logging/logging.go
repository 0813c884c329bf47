// Package logging configures the process logger.
//
// The bus itself never prints; it logs through whatever zerolog.Logger it
// is handed, and defaults to a disabled one so library embedders stay
// silent. The CLI calls New to get the console logger.
package logging

import (
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Environment overrides, read at logger construction.
const (
	EnvLevel   = "PEERBUS_LOG_LEVEL"
	EnvNoColor = "PEERBUS_LOG_NOCOLOR"
)

// New returns a console logger tagged with the app name. PEERBUS_LOG_LEVEL
// accepts any zerolog level name; unset or unparsable means info.
func New(app string) zerolog.Logger {
	writer := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
		NoColor:    noColor(),
	}
	return zerolog.New(writer).Level(level()).With().Timestamp().Str("app", app).Logger()
}

// Nop returns a disabled logger.
func Nop() zerolog.Logger { return zerolog.Nop() }

func level() zerolog.Level {
	raw := os.Getenv(EnvLevel)
	if raw == "" {
		return zerolog.InfoLevel
	}
	lvl, err := zerolog.ParseLevel(raw)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

func noColor() bool {
	v, err := strconv.ParseBool(os.Getenv(EnvNoColor))
	return err == nil && v
}
