package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Config holds logger configuration
type Config struct {
	Level        string // debug, info, warn, error
	Format       string // json, console
	Output       string // stdout, stderr, or file path
	EnableSource bool
	TimeFormat   string // console only

	// Service and Version are attached to every record when set
	Service string
	Version string

	writer io.Writer // overrides Output, used by tests
}

// Logger wraps slog.Logger
type Logger struct {
	*slog.Logger
	closer io.Closer
}

// New creates a logger writing to the configured output
func New(config *Config) (*Logger, error) {
	writer, closer, err := openOutput(config)
	if err != nil {
		return nil, err
	}

	l := slog.New(newHandler(config, writer))

	var base []any
	if config.Service != "" {
		base = append(base, slog.String("service", config.Service))
	}
	if config.Version != "" {
		base = append(base, slog.String("version", config.Version))
	}
	if len(base) > 0 {
		l = l.With(base...)
	}

	return &Logger{Logger: l, closer: closer}, nil
}

func newHandler(config *Config, w io.Writer) slog.Handler {
	level := parseLevel(config.Level)

	if config.Format == "console" || config.Format == "" {
		timeFormat := config.TimeFormat
		if timeFormat == "" {
			timeFormat = time.RFC3339
		}

		return tint.NewHandler(w, &tint.Options{
			Level:       level,
			AddSource:   config.EnableSource,
			TimeFormat:  timeFormat,
			ReplaceAttr: colorErrors,
		})
	}

	// json and anything unrecognised
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: config.EnableSource,
	})
}

// openOutput resolves the configured output to a writer. Any value other than
// stdout or stderr is treated as a file path opened for appending.
func openOutput(config *Config) (io.Writer, io.Closer, error) {
	if config.writer != nil {
		return config.writer, nil, nil
	}

	switch config.Output {
	case "stderr":
		return os.Stderr, nil, nil
	case "stdout", "":
		return os.Stdout, nil, nil
	}

	f, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log output %s: %w", config.Output, err)
	}
	return f, f, nil
}

// colorErrors renders error values with tint's error styling
func colorErrors(_ []string, a slog.Attr) slog.Attr {
	err, ok := a.Value.Any().(error)
	if !ok {
		return a
	}
	styled := tint.Err(err)
	styled.Key = a.Key
	return styled
}

// parseLevel accepts the slog level names in any case plus "warning".
// Unknown values fall back to info.
func parseLevel(level string) slog.Level {
	if strings.EqualFold(level, "warning") {
		return slog.LevelWarn
	}

	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// Component returns a child logger tagged with the emitting component
func (l *Logger) Component(name string) *slog.Logger {
	return l.Logger.With(slog.String("component", name))
}

// Close releases the output file, if the logger opened one
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
