package common

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogLevel represents logging verbosity levels
type LogLevel int

const (
	LogLevelError LogLevel = iota
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
)

var levelNames = [...]string{"error", "warn", "info", "debug"}

var slogLevels = [...]slog.Level{slog.LevelError, slog.LevelWarn, slog.LevelInfo, slog.LevelDebug}

func (l LogLevel) valid() bool { return l >= LogLevelError && l <= LogLevelDebug }

// String returns the string representation of the log level
func (l LogLevel) String() string {
	if !l.valid() {
		return "info"
	}
	return levelNames[l]
}

// ToSlogLevel converts LogLevel to slog.Level
func (l LogLevel) ToSlogLevel() slog.Level {
	if !l.valid() {
		return slog.LevelInfo
	}
	return slogLevels[l]
}

// ParseLevel accepts error, warn (or warning), info and debug; empty means info
func ParseLevel(s string) (LogLevel, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "":
		return LogLevelInfo, nil
	case "warning":
		return LogLevelWarn, nil
	}
	for i, name := range levelNames {
		if s == name {
			return LogLevel(i), nil
		}
	}
	return LogLevelInfo, fmt.Errorf("invalid logging level: %s (valid: error, warn, info, debug)", s)
}

// Format selects the log handler
type Format string

const (
	FormatText  Format = "text"
	FormatJSON  Format = "json"
	FormatColor Format = "color"
)

// ParseFormat accepts text, json and color (or colour); empty means text
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "color", "colour":
		return FormatColor, nil
	default:
		return "", fmt.Errorf("invalid logging format: %s (valid: text, json, color)", s)
	}
}

// Options configures New
type Options struct {
	Level  LogLevel
	Format Format
	// Output defaults to stderr so results written to stdout stay machine readable
	Output io.Writer
}

// Logger is the slog wrapper shared by every sessprobe package
type Logger struct {
	*slog.Logger
	level LogLevel
}

// New builds a logger. Every handler masks credentials while masking is enabled.
func New(opts Options) *Logger {
	w := opts.Output
	if w == nil {
		w = os.Stderr
	}
	var h slog.Handler
	switch opts.Format {
	case FormatJSON:
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: opts.Level.ToSlogLevel(), ReplaceAttr: maskReplaceAttr})
	case FormatColor:
		h = NewColorHandler(w, opts.Level.ToSlogLevel(), true)
	default:
		h = slog.NewTextHandler(w, &slog.HandlerOptions{Level: opts.Level.ToSlogLevel(), ReplaceAttr: maskReplaceAttr})
	}
	return &Logger{Logger: slog.New(h), level: opts.Level}
}

// NewLogger creates a text logger on stderr
func NewLogger(level LogLevel) *Logger {
	return New(Options{Level: level})
}

// NewJSONLogger creates a JSON logger on stderr
func NewJSONLogger(level LogLevel) *Logger {
	return New(Options{Level: level, Format: FormatJSON})
}

// NewColorLogger creates a colorized logger on stderr
func NewColorLogger(level LogLevel) *Logger {
	return New(Options{Level: level, Format: FormatColor})
}

func maskReplaceAttr(_ []string, a slog.Attr) slog.Attr {
	return globalMasker.MaskAttr(a)
}

// Level returns the current log level
func (l *Logger) Level() LogLevel {
	return l.level
}

func (l *Logger) with(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), level: l.level}
}

// WithComponent tags records with the emitting package or command
func (l *Logger) WithComponent(component string) *Logger {
	return l.with("component", component)
}

// WithScenario tags records with the scenario and its run id
func (l *Logger) WithScenario(name, runID string) *Logger {
	return l.with("scenario", name, "run_id", runID)
}

// WithBackend tags records with the session backend
func (l *Logger) WithBackend(backend string) *Logger {
	return l.with("backend", backend)
}

// WithStore tags records with the result store driver
func (l *Logger) WithStore(storeType string) *Logger {
	return l.with("store", storeType)
}

var defaultLogger = NewLogger(LogLevelInfo)

// SetDefaultLogger replaces the process logger; nil is ignored
func SetDefaultLogger(logger *Logger) {
	if logger != nil {
		defaultLogger = logger
	}
}

// GetLogger returns the process logger
func GetLogger() *Logger {
	return defaultLogger
}
