// Package log is the logging facade. Call sites depend on Logger only; the backend is logrus
// with a pattern formatter and pluggable appenders.
package log

import (
	"io"
	"os"
	"sync"
)

// Logger is the leveled, structured logger handed to components. Fields attach with
// WithField/WithFields; the Is*Enabled probes guard costly log arguments.
type Logger interface {
	Trace(args ...interface{})
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})

	WithField(field string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger

	IsTraceEnabled() bool
	IsDebugEnabled() bool
	IsInfoEnabled() bool
}

var (
	once   sync.Once
	mu     sync.RWMutex
	logger Logger
)

// GetLogger returns the process logger. Before Init it is a console logger with the default
// configuration.
func GetLogger() Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		logger = newLogrusAdapter(DefaultConfig(), os.Stderr)
	}
	return logger
}

// Init configures the process logger. Only the first call has an effect.
func Init(cfg Config) error {
	var err error
	once.Do(func() {
		var out io.Writer
		out, err = buildOutput(cfg)
		if err != nil {
			return
		}
		SetLogger(newLogrusAdapter(cfg, out))
	})
	return err
}

// SetLogger replaces the process logger.
func SetLogger(l Logger) {
	mu.Lock()
	logger = l
	mu.Unlock()
}

// New builds a standalone logger writing to out.
func New(cfg Config, out io.Writer) Logger {
	return newLogrusAdapter(cfg, out)
}

func buildOutput(cfg Config) (io.Writer, error) {
	w := NewMultiWriter()
	if cfg.Console {
		w.Add(os.Stderr)
	}
	if cfg.File.Enabled {
		if _, err := w.AddFileAppender(cfg.File); err != nil {
			return nil, err
		}
	}
	if w.Len() == 0 {
		w.Add(os.Stderr)
	}
	return w, nil
}
