// Package logger builds the process logger from configuration.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/becomeliminal/nim-memory/config"
)

// New returns a logger writing to stderr and installs it as the default, so
// components that fall back to log.Default() share its settings.
func New(cfg config.Logging) (*log.Logger, error) {
	l, err := NewWriter(os.Stderr, cfg)
	if err != nil {
		return nil, err
	}
	log.SetDefault(l)
	return l, nil
}

// NewWriter returns a logger writing to w.
func NewWriter(w io.Writer, cfg config.Logging) (*log.Logger, error) {
	level := log.InfoLevel
	if cfg.Level != "" {
		parsed, err := log.ParseLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		level = parsed
	}

	return log.NewWithOptions(w, log.Options{
		Level:           level,
		ReportTimestamp: cfg.Timestamp,
		ReportCaller:    cfg.Caller,
		TimeFormat:      time.RFC3339,
		Formatter:       formatter(cfg.Format),
	}), nil
}

func formatter(name string) log.Formatter {
	switch strings.ToLower(name) {
	case "json":
		return log.JSONFormatter
	case "logfmt":
		return log.LogfmtFormatter
	}
	return log.TextFormatter
}
