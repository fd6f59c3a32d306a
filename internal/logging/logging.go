package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"loanops/internal/config"
)

// New builds a logger from the logging section of the config. A nil cfg
// yields an info-level text logger on stderr.
func New(cfg *config.Config) *logrus.Logger {
	var lc config.LoggingConfig
	if cfg != nil {
		lc = cfg.Logging
	}
	return NewWithOutput(lc, os.Stderr)
}

func NewWithOutput(lc config.LoggingConfig, w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	level, err := logrus.ParseLevel(lc.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)
	if lc.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return l
}

// Nop discards everything. Tests use it to keep output quiet.
func Nop() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}
