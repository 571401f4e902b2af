// Package logging configures the process-wide zerolog logger and the
// component and run scoped loggers derived from it.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logger configuration.
type Config struct {
	// Level is a zerolog level name; unknown or empty values mean info.
	Level string

	// Pretty switches from JSON lines to console output.
	Pretty bool

	// Output defaults to os.Stderr.
	Output io.Writer

	// Service, when set, is attached to every line as "service".
	Service string
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: "15:04:05"}
	}

	ctx := zerolog.New(output).With().Timestamp()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	logger := ctx.Logger()
	log.Logger = logger

	return logger
}

// ParseLevel maps a level name to a zerolog level. "warning" is accepted as
// an alias of warn.
func ParseLevel(name string) zerolog.Level {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "warning" {
		name = "warn"
	}
	level, err := zerolog.ParseLevel(name)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// ForRun scopes base to one ingestion run.
func ForRun(base zerolog.Logger, project, runID string) zerolog.Logger {
	return base.With().
		Str("project", project).
		Str("run_id", runID).
		Logger()
}

// Fields used across the pipeline:
//   - project: project key (e.g. "2228")
//   - run_id: ingestion run identifier
//   - page / total_pages / completed_pages: pagination position
//   - attempt / backoff: retry bookkeeping
//   - error_class: rate_limit, timeout, client, server, network, decode
//   - chunk / applied: persistence chunk bookkeeping
