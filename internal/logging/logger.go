// Package logging configures the process-wide zerolog logger shared by every
// pipeline worker, CLI and Lambda entry point.
package logging

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LevelEnvVar names the environment variable that selects the log level.
const LevelEnvVar = "PIPELINE_LOG_LEVEL"

// Init initializes the global logger from the environment.
// PIPELINE_LOG_LEVEL controls the level: debug, info, warn, error (default: info).
// Inside Lambda the output stays raw JSON so CloudWatch can index the fields;
// everywhere else a console writer is used.
func Init() {
	zerolog.SetGlobalLevel(ParseLevel(os.Getenv(LevelEnvVar)))
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	if os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "" {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// ParseLevel maps a level name to a zerolog level. Unknown names fall back to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
