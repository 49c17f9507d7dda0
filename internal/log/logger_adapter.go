package log

import (
	"io"

	"github.com/sirupsen/logrus"
)

type logrusAdapter struct {
	entry *logrus.Entry
}

func newLogrusAdapter(cfg Config, out io.Writer) *logrusAdapter {
	if cfg.Pattern == "" {
		cfg.Pattern = DefaultPattern
	}
	if cfg.Time == "" {
		cfg.Time = DefaultTime
	}

	l := logrus.New()
	l.SetFormatter(&formatter{
		pattern: cfg.Pattern,
		time:    cfg.Time,
	})
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)
	l.SetOutput(out)

	return &logrusAdapter{entry: logrus.NewEntry(l)}
}

func (l *logrusAdapter) Trace(args ...interface{}) { l.entry.Log(logrus.TraceLevel, args...) }
func (l *logrusAdapter) Debug(args ...interface{}) { l.entry.Log(logrus.DebugLevel, args...) }
func (l *logrusAdapter) Info(args ...interface{})  { l.entry.Log(logrus.InfoLevel, args...) }
func (l *logrusAdapter) Warn(args ...interface{})  { l.entry.Log(logrus.WarnLevel, args...) }
func (l *logrusAdapter) Error(args ...interface{}) { l.entry.Log(logrus.ErrorLevel, args...) }

func (l *logrusAdapter) with(entry *logrus.Entry) Logger {
	return &logrusAdapter{entry: entry}
}

func (l *logrusAdapter) WithField(field string, value interface{}) Logger {
	return l.with(l.entry.WithField(field, value))
}

func (l *logrusAdapter) WithFields(fields map[string]interface{}) Logger {
	return l.with(l.entry.WithFields(fields))
}

func (l *logrusAdapter) WithError(err error) Logger {
	return l.with(l.entry.WithError(err))
}

func (l *logrusAdapter) IsTraceEnabled() bool { return l.entry.Logger.IsLevelEnabled(logrus.TraceLevel) }
func (l *logrusAdapter) IsDebugEnabled() bool { return l.entry.Logger.IsLevelEnabled(logrus.DebugLevel) }
func (l *logrusAdapter) IsInfoEnabled() bool  { return l.entry.Logger.IsLevelEnabled(logrus.InfoLevel) }
