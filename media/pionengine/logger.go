package pionengine

import (
	"fmt"

	"github.com/pion/logging"

	"github.com/imtaco/audio-rooms/internal/log"
)

type loggerFactory struct {
	logger *log.Logger
}

// NewLoggerFactory routes pion's scoped loggers onto logger. Trace output
// is dropped.
func NewLoggerFactory(logger *log.Logger) logging.LoggerFactory {
	return &loggerFactory{logger: logger}
}

func (f *loggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &leveledLogger{logger: f.logger.With(log.String("scope", scope))}
}

type leveledLogger struct {
	logger *log.Logger
}

func (l *leveledLogger) Trace(string)          {}
func (l *leveledLogger) Tracef(string, ...any) {}

func (l *leveledLogger) Debug(msg string) { l.logger.Debug(msg) }
func (l *leveledLogger) Info(msg string)  { l.logger.Info(msg) }
func (l *leveledLogger) Warn(msg string)  { l.logger.Warn(msg) }
func (l *leveledLogger) Error(msg string) { l.logger.Error(msg) }

func (l *leveledLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *leveledLogger) Infof(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *leveledLogger) Warnf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *leveledLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}
