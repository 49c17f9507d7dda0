package log

import (
	"errors"

	"gopkg.in/natefinch/lumberjack.v2"
)

// AddFileAppender appends a size-rotated file. Zero limits keep lumberjack's defaults.
func (m *MultiWriter) AddFileAppender(options FileConfig) (*MultiWriter, error) {
	if options.Filename == "" {
		return m, errors.New("sniff: log file appender needs a filename")
	}
	writer := &lumberjack.Logger{
		Filename:   options.Filename,
		MaxSize:    options.MaxSize,
		MaxBackups: options.MaxBackups,
		MaxAge:     options.MaxAge,
		Compress:   options.Compress,
	}
	return m.Add(writer), nil
}
