// Package logging builds the zerolog loggers shared by every component.
package logging

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	EnvLogLevel = "PROTOFRAME_LOG_LEVEL"
	// EnvLog set to "no" disables logging entirely.
	EnvLog = "PROTOFRAME_LOG"
)

var logout = zerolog.ConsoleWriter{
	Out:        os.Stdout,
	TimeFormat: time.RFC3339,
	FormatPrepare: func(e map[string]interface{}) error {
		if c, ok := e["component"]; ok {
			e["component"] = fmt.Sprintf("[%s]", c)
		}
		return nil
	},
	PartsOrder: []string{
		zerolog.TimestampFieldName,
		zerolog.LevelFieldName,
		"component",
		zerolog.MessageFieldName,
	},
	FieldsExclude: []string{"component"},
}

// New returns a console logger tagged with the given component name.
func New(component string) zerolog.Logger {
	return zerolog.New(logout).
		Level(LevelFromEnv()).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

// LevelFromEnv resolves the level from the environment, defaulting to info.
func LevelFromEnv() zerolog.Level {
	if strings.EqualFold(strings.TrimSpace(os.Getenv(EnvLog)), "no") {
		return zerolog.Disabled
	}
	lvl, ok := ParseLevel(os.Getenv(EnvLogLevel))
	if !ok {
		return zerolog.InfoLevel
	}
	return lvl
}

// ParseLevel maps a textual level to zerolog. The bool is false for unknown or
// empty input.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "off", "none", "no":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}
