package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Level parses LogLevel.
func (c ObservabilityConfig) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("unknown log level %q", c.LogLevel)
	}

	return level, nil
}

// NewLogger creates the process logger writing to w in the configured format and level.
func (c ObservabilityConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := c.Level()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	options := &slog.HandlerOptions{Level: level}

	if c.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, options)), nil
	}

	return slog.New(slog.NewJSONHandler(w, options)), nil
}
