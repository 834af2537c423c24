package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

// Fields is an alias so callers do not import logrus directly.
type Fields = logrus.Fields

var (
	std  = logrus.New()
	mu   sync.Mutex
	file *os.File
)

func init() {
	std.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05.000"})
	std.SetLevel(logrus.InfoLevel)
	std.SetOutput(os.Stderr)
}

// Init configures the package logger from options.
func Init(opts *Options) error {
	if opts == nil {
		opts = NewOptions()
	}
	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", opts.Level, err)
	}

	mu.Lock()
	defer mu.Unlock()

	std.SetLevel(level)
	switch opts.Format {
	case "json":
		std.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	default:
		std.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05.000",
			DisableColors:   opts.DisableColor,
		})
	}

	if opts.OutputPath == "" || opts.OutputPath == "stderr" {
		std.SetOutput(os.Stderr)
		return nil
	}
	if opts.OutputPath == "stdout" {
		std.SetOutput(os.Stdout)
		return nil
	}
	return openFile(opts.OutputPath)
}

// InitLog writes logs to both stderr and the given file.
func InitLog(path string) error {
	mu.Lock()
	defer mu.Unlock()
	return openFile(path)
}

func openFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file %q: %w", path, err)
	}
	if file != nil {
		_ = file.Close()
	}
	file = f
	std.SetOutput(io.MultiWriter(os.Stderr, f))
	return nil
}

// FlushLog syncs and closes the log file if one is open.
func FlushLog() {
	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return
	}
	_ = file.Sync()
	_ = file.Close()
	file = nil
	std.SetOutput(os.Stderr)
}

// SetOutput redirects log output, mostly for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	std.SetOutput(w)
}

// SetLevel changes the log level at runtime.
func SetLevel(level string) error {
	l, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	std.SetLevel(l)
	return nil
}

// WithFields returns an entry carrying structured fields.
func WithFields(fields Fields) *logrus.Entry {
	return std.WithFields(fields)
}

func Debug(format string, args ...interface{}) { std.Debugf(format, args...) }
func Info(format string, args ...interface{})  { std.Infof(format, args...) }
func Warn(format string, args ...interface{})  { std.Warnf(format, args...) }
func Error(format string, args ...interface{}) { std.Errorf(format, args...) }

// Fatal logs and exits the process.
func Fatal(format string, args ...interface{}) { std.Fatalf(format, args...) }

// DebugX logs with a module field attached.
func DebugX(module, format string, args ...interface{}) {
	std.WithField("module", module).Debugf(format, args...)
}

// InfoX logs with a module field attached.
func InfoX(module, format string, args ...interface{}) {
	std.WithField("module", module).Infof(format, args...)
}

// WarnX logs with a module field attached.
func WarnX(module, format string, args ...interface{}) {
	std.WithField("module", module).Warnf(format, args...)
}

// ErrorX logs with a module field attached.
func ErrorX(module, format string, args ...interface{}) {
	std.WithField("module", module).Errorf(format, args...)
}
