// Package log provides structured, colored logging for shieldscan.
package log

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance. Component loggers derive from it.
var Logger = newLogger(console(os.Stderr), zerolog.InfoLevel)

var levels = map[string]zerolog.Level{
	"trace":    zerolog.TraceLevel,
	"debug":    zerolog.DebugLevel,
	"info":     zerolog.InfoLevel,
	"warn":     zerolog.WarnLevel,
	"error":    zerolog.ErrorLevel,
	"disabled": zerolog.Disabled,
	"off":      zerolog.Disabled,
}

// Init replaces the global logger. Console output on stderr is colored
// unless jsonOutput is set. A non-empty file additionally receives every
// record as JSON.
func Init(level string, jsonOutput bool, file string) error {
	var out io.Writer = os.Stderr
	if !jsonOutput {
		out = console(os.Stderr)
	}
	if file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		out = zerolog.MultiLevelWriter(out, f)
	}
	Logger = newLogger(out, parseLevel(level))
	return nil
}

func console(w io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
}

func newLogger(w io.Writer, lvl zerolog.Level) zerolog.Logger {
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// parseLevel maps unknown names to info.
func parseLevel(level string) zerolog.Level {
	if lvl, ok := levels[level]; ok {
		return lvl
	}
	return zerolog.InfoLevel
}

// ValidLevel reports whether level is a recognized level name.
func ValidLevel(level string) bool {
	_, ok := levels[level]
	return ok
}

// WithComponent returns a logger with a component field.
func WithComponent(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

// WithScan returns a component logger tagged with a scan id, so concurrent
// scans can be told apart in the output.
func WithScan(component, scanID string) zerolog.Logger {
	return Logger.With().Str("component", component).Str("scan_id", scanID).Logger()
}
