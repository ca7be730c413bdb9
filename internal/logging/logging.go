package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global zerolog logger. LOG_LEVEL overrides fallback.
func Init(fallback zerolog.Level) {
	InitWriter(os.Stderr, fallback)
}

// InitWriter is Init with an explicit destination. The terminal UI owns
// stdout, so logs always go elsewhere.
func InitWriter(w io.Writer, fallback zerolog.Level) {
	level := fallback
	if l, ok := os.LookupEnv("LOG_LEVEL"); ok {
		level = ParseLevel(l, fallback)
	}

	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.Kitchen,
	}).With().Timestamp().Logger()
}

// ParseLevel maps the names accepted in LOG_LEVEL.
func ParseLevel(s string, fallback zerolog.Level) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "dev", "development", "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error", "production", "prod":
		return zerolog.ErrorLevel
	case "off", "disabled":
		return zerolog.Disabled
	}
	return fallback
}
