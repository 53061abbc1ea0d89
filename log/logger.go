/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package log provides structured logging for the service.
// It is a thin layer on top of the logf library with JSON and colored text
// appenders and optional rotating file output.
package log

import (
	"io"
	"os"

	"github.com/ssgreg/logf"
	"github.com/ssgreg/logftext"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Field hold data of a specific field.
type Field = logf.Field

// Error returns a new Field with the given error. Key is 'error'.
var Error = logf.Error

// String returns a new Field with the given key and string.
var String = logf.String

// Strings returns a new Field with the given key and slice of strings.
var Strings = logf.Strings

// Int returns a new Field with the given key and int.
var Int = logf.Int

// Int64 returns a new Field with the given key and int64.
var Int64 = logf.Int64

// Bool returns a new Field with the given key and bool.
var Bool = logf.Bool

// Bytes returns a new Field with the given key and slice of bytes.
var Bytes = logf.Bytes

// Duration returns a new Field with the given key and time.Duration.
var Duration = logf.Duration

// FieldLogger is an interface for loggers that write logs in structured format.
type FieldLogger interface {
	With(...Field) FieldLogger

	Debug(string, ...Field)
	Info(string, ...Field)
	Warn(string, ...Field)
	Error(string, ...Field)
}

// CloseFunc flushes buffered log entries and releases the underlying writer.
type CloseFunc logf.ChannelWriterCloseFunc

// NewDisabledLogger returns a new logger that logs nothing.
func NewDisabledLogger() FieldLogger {
	return &logfAdapter{logf.NewDisabledLogger()}
}

// NewLogger returns a new logger built from the config.
func NewLogger(cfg Config) (FieldLogger, CloseFunc) {
	channel, closeFunc := logf.NewChannelWriter(logf.ChannelWriterConfig{
		Appender:          makeAppender(cfg),
		EnableSyncOnError: true,
	})
	logger := logf.NewLogger(levelToLogf(cfg.Level), channel)
	logger = logger.With(logf.Int("pid", os.Getpid()))
	return &logfAdapter{logger}, CloseFunc(closeFunc)
}

type logfAdapter struct {
	logger *logf.Logger
}

func (l *logfAdapter) With(fs ...Field) FieldLogger {
	return &logfAdapter{l.logger.With(fs...)}
}

func (l *logfAdapter) Debug(s string, fields ...Field) {
	l.logger.Debug(s, fields...)
}

func (l *logfAdapter) Info(s string, fields ...Field) {
	l.logger.Info(s, fields...)
}

func (l *logfAdapter) Warn(s string, fields ...Field) {
	l.logger.Warn(s, fields...)
}

func (l *logfAdapter) Error(s string, fields ...Field) {
	l.logger.Error(s, fields...)
}

func levelToLogf(level Level) logf.Level {
	switch level {
	case LevelError:
		return logf.LevelError
	case LevelWarn:
		return logf.LevelWarn
	case LevelDebug:
		return logf.LevelDebug
	}
	return logf.LevelInfo
}

func makeAppender(cfg Config) logf.Appender {
	var w io.Writer
	switch cfg.Output {
	case OutputFile:
		w = &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.Rotation.MaxSizeMB,
			MaxBackups: cfg.File.Rotation.MaxBackups,
			MaxAge:     cfg.File.Rotation.MaxAgeDays,
			Compress:   cfg.File.Rotation.Compress,
		}
	case OutputStderr:
		w = os.Stderr
	default:
		w = os.Stdout
	}

	if cfg.Format == FormatText {
		noColor := cfg.NoColor
		return logftext.NewAppender(w, logftext.EncoderConfig{
			NoColor:    &noColor,
			EncodeTime: logf.RFC3339NanoTimeEncoder,
		})
	}
	return logf.NewWriteAppender(w, logf.NewJSONEncoder(logf.JSONEncoderConfig{
		EncodeTime:   logf.RFC3339NanoTimeEncoder,
		FieldKeyTime: "time",
	}))
}
