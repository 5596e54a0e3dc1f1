package log

import (
	"io"

	"github.com/sirupsen/logrus"
)

// NewLogger creates a logrus.Logger with the project's text format and the given level.
// An unknown level falls back to info and is reported through the returned logger.
func NewLogger(levelStr string, out io.Writer) *logrus.Logger {
	log := logrus.New()
	if out != nil {
		log.SetOutput(out)
	}
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	log.SetLevel(logrus.InfoLevel)

	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", levelStr, err)
	} else {
		log.SetLevel(level)
	}
	return log
}

// Discard returns an entry that drops everything. Used by tests and by callers without a logger.
func Discard() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}
