/*
Package logging provides the zerolog-based logger shared by every component.

Call Init once from the CLI entry point; packages obtain child loggers with
Component so every line carries a "component" field:

	log := logging.Component("signals")
	log.Warn().Err(err).Str("key", key).Msg("failed to persist signal")
*/
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logging configuration.
type Config struct {
	// Level is the minimum level: trace, debug, info, warn, error, disabled.
	Level string `koanf:"level" yaml:"level" validate:"omitempty,oneof=trace debug info warn warning error fatal disabled"`

	// Format is json or console.
	Format string `koanf:"format" yaml:"format" validate:"omitempty,oneof=json console"`

	// Output defaults to os.Stderr. stdout is reserved for the stdio transport.
	Output io.Writer `koanf:"-" yaml:"-"`
}

// DefaultConfig returns the default logging configuration.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "console",
		Output: os.Stderr,
	}
}

var (
	log zerolog.Logger
	mu  sync.RWMutex
)

func init() {
	initLogger(DefaultConfig())
}

// Init reconfigures the global logger. It is safe to call more than once.
func Init(cfg Config) {
	mu.Lock()
	defer mu.Unlock()
	initLogger(cfg)
}

// initLogger must be called with mu held.
func initLogger(cfg Config) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))
	zerolog.TimeFieldFormat = time.RFC3339

	output := cfg.Output
	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{
			Out:        cfg.Output,
			TimeFormat: "15:04:05",
		}
	}

	log = zerolog.New(output).With().Timestamp().Logger()
}

// ParseLevel converts a level name to a zerolog.Level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// Logger returns the global logger.
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// SetLogger replaces the global logger. Tests use it to capture output.
func SetLogger(l zerolog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	log = l
}

// Component returns a child logger tagged with the component name.
func Component(name string) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log.With().Str("component", name).Logger()
}
