package log

import (
	"io"

	"github.com/sirupsen/logrus"
)

// New creates a logrus.Logger writing to out with the pipeline's text format.
// An unparseable level falls back to info and is reported once.
func New(out io.Writer, levelStr string) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)
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

// Discard returns an entry that drops everything; used by tests and library callers without a logger.
func Discard() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

// ForStage returns an entry tagged with the stage name.
func ForStage(logger *logrus.Logger, stage string) *logrus.Entry {
	return logger.WithField("stage", stage)
}
