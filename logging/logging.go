// Package logging - logrus logger construction shared by the CLI and library
// callers.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/mrs-eval/images"
)

// Config selects the level and output format.
type Config struct {
	// Level is a logrus level name; empty means info.
	Level string `json:"level" yaml:"level"`
	// JSON switches from the text formatter to the JSON formatter.
	JSON bool `json:"json"  yaml:"json"`
	// File, when set, receives log lines instead of stderr.
	File string `json:"file"  yaml:"file"`
}

// ParseLevel parses a level name, case-insensitively. Empty means info.
func ParseLevel(level string) (logrus.Level, error) {
	if strings.TrimSpace(level) == "" {
		return logrus.InfoLevel, nil
	}
	lvl, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return 0, errors.Wrapf(images.ErrInvalidConfig, "log level %q", level)
	}
	return lvl, nil
}

// New returns a logger writing to stderr.
//
// Arguments:
//   - level: A logrus level name such as "debug" or "warn".
//   - json: Use the JSON formatter instead of full-timestamp text.
//
// Returns:
//   - *logrus.Logger: The logger.
//   - error: images.ErrInvalidConfig for an unknown level.
func New(level string, json bool) (*logrus.Logger, error) {
	return NewWithWriter(os.Stderr, level, json)
}

// NewWithWriter is New with an explicit output.
func NewWithWriter(w io.Writer, level string, json bool) (*logrus.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	log := logrus.New()
	log.SetOutput(w)
	log.SetLevel(lvl)
	if json {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log, nil
}

// FromConfig builds a logger from a Config. The returned closer releases the
// log file, if any.
func FromConfig(cfg Config) (*logrus.Logger, io.Closer, error) {
	if cfg.File == "" {
		log, err := New(cfg.Level, cfg.JSON)
		return log, nopCloser{}, err
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "open log file %s", cfg.File)
	}
	log, err := NewWithWriter(f, cfg.Level, cfg.JSON)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return log, f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
