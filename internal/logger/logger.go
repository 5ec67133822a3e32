package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/natefinch/lumberjack"
	"github.com/rs/zerolog"
)

// Logger is the structured logging surface used across the service.
// Fields are passed as alternating key/value pairs.
type Logger interface {
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Debug(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	With(fields ...interface{}) Logger
}

type loggerImpl struct {
	zl zerolog.Logger
}

// Config holds logger configuration
type Config struct {
	Level      string
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New builds a logger writing to the console and, when FilePath is set,
// to a rotating file
func New(cfg Config) Logger {
	writers := []io.Writer{ConsoleWriter()}
	if cfg.FilePath != "" {
		writers = append(writers, FileWriter(cfg))
	}
	return NewWithWriters(ParseLevel(cfg.Level), writers...)
}

// NewWithWriters creates a logger on top of arbitrary writers
func NewWithWriters(level zerolog.Level, writers ...io.Writer) Logger {
	multi := io.MultiWriter(writers...)
	zl := zerolog.New(multi).With().Timestamp().Logger().Level(level)
	return &loggerImpl{zl: zl}
}

// Nop returns a logger that discards everything
func Nop() Logger {
	return &loggerImpl{zl: zerolog.Nop()}
}

// ConsoleWriter returns a human-readable console writer
func ConsoleWriter() io.Writer {
	return zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
}

// FileWriter returns a file writer with rotation
func FileWriter(cfg Config) io.Writer {
	maxSize := cfg.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 10
	}
	maxBackups := cfg.MaxBackups
	if maxBackups <= 0 {
		maxBackups = 5
	}
	maxAge := cfg.MaxAgeDays
	if maxAge <= 0 {
		maxAge = 30
	}
	return &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    maxSize, // megabytes
		MaxBackups: maxBackups,
		MaxAge:     maxAge, // days
		Compress:   true,
	}
}

// ParseLevel maps a level name to a zerolog level, defaulting to info
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *loggerImpl) Info(msg string, fields ...interface{}) {
	logWithFields(l.zl.Info(), msg, fields...)
}

func (l *loggerImpl) Warn(msg string, fields ...interface{}) {
	logWithFields(l.zl.Warn(), msg, fields...)
}

func (l *loggerImpl) Error(msg string, fields ...interface{}) {
	logWithFields(l.zl.Error(), msg, fields...)
}

func (l *loggerImpl) Debug(msg string, fields ...interface{}) {
	logWithFields(l.zl.Debug(), msg, fields...)
}

// Fatal logs and exits the process
func (l *loggerImpl) Fatal(msg string, fields ...interface{}) {
	logWithFields(l.zl.Fatal(), msg, fields...)
}

// With returns a child logger carrying the given fields on every entry
func (l *loggerImpl) With(fields ...interface{}) Logger {
	ctx := l.zl.With()
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		ctx = ctx.Interface(key, fields[i+1])
	}
	return &loggerImpl{zl: ctx.Logger()}
}

// logWithFields adds key/value pairs to the event. An "error" key holding
// an error is attached with Err so it lands in zerolog's error field.
func logWithFields(event *zerolog.Event, msg string, fields ...interface{}) {
	if event == nil {
		return
	}
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		if key == "error" {
			if err, ok := fields[i+1].(error); ok && err != nil {
				event = event.Err(err)
				continue
			}
		}
		event = event.Interface(key, fields[i+1])
	}
	event.Msg(msg)
}
