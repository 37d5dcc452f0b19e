// Package logger builds the slog loggers used across the pipeline. CLI runs
// get a colorized charmbracelet handler; non-interactive runs get JSON.
package logger

import (
	"io"
	"log/slog"
	"os"

	charm "github.com/charmbracelet/log"
)

type config struct {
	level   slog.Level
	pretty  bool
	json    bool
	source  bool
	writers []io.Writer
}

// Option configures a logger created with New.
type Option func(*config)

// WithDebug sets the log level to Debug when true, Info otherwise.
func WithDebug(debug bool) Option {
	return func(c *config) {
		if debug {
			c.level = slog.LevelDebug
		} else {
			c.level = slog.LevelInfo
		}
	}
}

// WithPretty enables the charmbracelet/log handler for colorized,
// human-friendly CLI output.
func WithPretty(pretty bool) Option {
	return func(c *config) {
		c.pretty = pretty
	}
}

// WithJSON enables slog's JSON handler for structured logs.
func WithJSON(json bool) Option {
	return func(c *config) {
		c.json = json
	}
}

// WithWriter overrides the output writer. Defaults to os.Stderr.
func WithWriter(w io.Writer) Option {
	return func(c *config) {
		c.writers = []io.Writer{w}
	}
}

// WithSource includes source file:line in log output.
func WithSource(source bool) Option {
	return func(c *config) {
		c.source = source
	}
}

// New builds a *slog.Logger from the given options. JSON wins over pretty
// when both are set.
func New(opts ...Option) *slog.Logger {
	cfg := config{level: slog.LevelInfo}
	for _, opt := range opts {
		opt(&cfg)
	}

	if len(cfg.writers) == 0 {
		cfg.writers = []io.Writer{os.Stderr}
	}

	w := cfg.writers[0]
	if len(cfg.writers) > 1 {
		w = io.MultiWriter(cfg.writers...)
	}

	var handler slog.Handler
	switch {
	case cfg.json:
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: cfg.level, AddSource: cfg.source})
	case cfg.pretty:
		charmLevel := charm.InfoLevel
		if cfg.level == slog.LevelDebug {
			charmLevel = charm.DebugLevel
		}
		handler = charm.NewWithOptions(w, charm.Options{
			Level:           charmLevel,
			ReportCaller:    cfg.source,
			ReportTimestamp: true,
		})
	default:
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: cfg.level, AddSource: cfg.source})
	}

	return slog.New(handler)
}
