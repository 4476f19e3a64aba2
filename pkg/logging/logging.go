// Package logging wires logrus for peepview and bridges pion's internal
// logging onto the same logger.
package logging

import (
	"fmt"
	"io"
	"strings"

	pionlog "github.com/pion/logging"
	"github.com/sirupsen/logrus"
)

// New creates a logrus logger writing to out at the given level name
func New(level string, out io.Writer) (*logrus.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(lvl)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})
	return logger, nil
}

// ParseLevel parses a level name, treating "" as info
func ParseLevel(level string) (logrus.Level, error) {
	level = strings.TrimSpace(level)
	if level == "" {
		return logrus.InfoLevel, nil
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return logrus.InfoLevel, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return lvl, nil
}

// PionFactory adapts a logrus logger to pion's LoggerFactory so ICE, DTLS and
// friends log through the application logger with a "scope" field.
type PionFactory struct {
	Logger logrus.FieldLogger
}

// NewPionFactory creates a pion logger factory backed by logger
func NewPionFactory(logger logrus.FieldLogger) *PionFactory {
	return &PionFactory{Logger: logger}
}

// NewLogger implements pionlog.LoggerFactory
func (f *PionFactory) NewLogger(scope string) pionlog.LeveledLogger {
	return &pionLogger{entry: f.Logger.WithField("scope", scope)}
}

// pionLogger implements pionlog.LeveledLogger
type pionLogger struct {
	entry *logrus.Entry
}

func (l *pionLogger) Trace(msg string)                          { l.entry.Trace(msg) }
func (l *pionLogger) Tracef(format string, args ...interface{}) { l.entry.Tracef(format, args...) }
func (l *pionLogger) Debug(msg string)                          { l.entry.Debug(msg) }
func (l *pionLogger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *pionLogger) Info(msg string)                           { l.entry.Info(msg) }
func (l *pionLogger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *pionLogger) Warn(msg string)                           { l.entry.Warn(msg) }
func (l *pionLogger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *pionLogger) Error(msg string)                          { l.entry.Error(msg) }
func (l *pionLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

var _ pionlog.LoggerFactory = (*PionFactory)(nil)
