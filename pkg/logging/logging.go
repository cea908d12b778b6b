package logging

import (
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger is the logging interface accepted by every component. It is
// satisfied by both *logrus.Logger and *logrus.Entry so callers can pass a
// component-scoped entry.
type Logger interface {
	logrus.FieldLogger
}

// Format selects the output encoding of a logger created with New.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// New creates a logger writing to out at the given level ("debug", "info",
// "warn", ...). An empty level means info.
func New(out io.Writer, level string, format Format) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(out)

	if level == "" {
		level = logrus.InfoLevel.String()
	}
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	log.SetLevel(lvl)

	switch format {
	case FormatJSON:
		log.SetFormatter(&logrus.JSONFormatter{})
	case FormatText, "":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("unsupported log format: %s", format)
	}
	return log, nil
}

// Discard returns a logger that drops everything. It is the default for
// library components that must not print on their own.
func Discard() Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
