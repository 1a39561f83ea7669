package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	// Debug level for detailed troubleshooting
	Debug LogLevel = iota
	// Info level for general operational entries
	Info
	// Warn level for non-critical issues
	Warn
	// Error level for errors that need attention
	Error
)

var levelNames = map[LogLevel]string{
	Debug: "DEBUG",
	Info:  "INFO",
	Warn:  "WARN",
	Error: "ERROR",
}

// TimestampFormat is the layout of the bracketed timestamp that starts every line.
const TimestampFormat = "2006-01-02 15:04:05"

// DirMode defines platform-specific directory permissions
var DirMode os.FileMode

func init() {
	if runtime.GOOS == "windows" {
		DirMode = 0666
	} else {
		DirMode = 0755
	}
}

// Logger represents our custom logger
type Logger struct {
	out   io.Writer
	level LogLevel
	mu    *sync.Mutex
	files []io.Closer
	now   func() time.Time
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Config holds logger configuration
type Config struct {
	// LogLevel sets the minimum level to log
	LogLevel LogLevel
	// LogFile is the path to the log file. If empty, logs to stdout
	LogFile string
	// MaxSizeMB is the size in megabytes that triggers rotation of LogFile
	MaxSizeMB int
	// MaxBackups is how many rotated files are kept
	MaxBackups int
	// MaxAgeDays removes rotated files older than this many days
	MaxAgeDays int
	// Stdout replaces os.Stdout as the echo target when set
	Stdout io.Writer
}

// Initialize sets up the default logger with configuration
func Initialize(config Config) error {
	var err error
	once.Do(func() {
		defaultLogger, err = NewLogger(config)
	})
	return err
}

// NewLogger creates a new logger instance
func NewLogger(config Config) (*Logger, error) {
	stdout := config.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	l := &Logger{
		out:   stdout,
		level: config.LogLevel,
		mu:    &sync.Mutex{},
		now:   time.Now,
	}
	if config.LogFile != "" {
		file, err := openRotating(config.LogFile, config.MaxSizeMB, config.MaxBackups, config.MaxAgeDays)
		if err != nil {
			return nil, err
		}
		l.out = io.MultiWriter(stdout, file)
		l.files = append(l.files, file)
	}
	return l, nil
}

// openRotating creates the log directory and a lumberjack writer for path.
func openRotating(path string, maxSizeMB, maxBackups, maxAgeDays int) (*lumberjack.Logger, error) {
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), DirMode); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 100
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   true,
	}, nil
}

// WithFile returns a logger that writes everywhere l writes and additionally
// appends to path. The derived logger shares l's lock, so lines from parent
// and child never interleave.
func (l *Logger) WithFile(path string) (*Logger, error) {
	file, err := openRotating(path, 0, 3, 0)
	if err != nil {
		return nil, err
	}
	return &Logger{
		out:   io.MultiWriter(l.out, file),
		level: l.level,
		mu:    l.mu,
		files: []io.Closer{file},
		now:   l.now,
	}, nil
}

// Close properly closes the file handles owned by this logger
func (l *Logger) Close() error {
	var firstErr error
	for _, f := range l.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.files = nil
	return firstErr
}

func (l *Logger) logf(level LogLevel, format string, v ...interface{}) {
	if level < l.level {
		return
	}
	line := fmt.Sprintf("[%s] %s: %s\n", l.now().Format(TimestampFormat), levelNames[level], fmt.Sprintf(format, v...))
	l.mu.Lock()
	defer l.mu.Unlock()
	// one Write per line keeps concurrent writers from splitting lines
	_, _ = io.WriteString(l.out, line)
}

// Debug logs a debug message
func (l *Logger) Debug(format string, v ...interface{}) {
	l.logf(Debug, format, v...)
}

// Info logs an info message
func (l *Logger) Info(format string, v ...interface{}) {
	l.logf(Info, format, v...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, v ...interface{}) {
	l.logf(Warn, format, v...)
}

// Error logs an error message
func (l *Logger) Error(format string, v ...interface{}) {
	l.logf(Error, format, v...)
}

// GetLogger returns the default logger instance
func GetLogger() *Logger {
	if defaultLogger == nil {
		panic("logger not initialized")
	}
	return defaultLogger
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() *Logger {
	return &Logger{out: io.Discard, level: Error + 1, mu: &sync.Mutex{}, now: time.Now}
}

// ParseLogLevel converts a string level to LogLevel
func ParseLogLevel(level string) (LogLevel, error) {
	switch level {
	case "debug", "DEBUG":
		return Debug, nil
	case "info", "INFO":
		return Info, nil
	case "warn", "WARN":
		return Warn, nil
	case "error", "ERROR":
		return Error, nil
	default:
		return Info, fmt.Errorf("unknown log level: %s", level)
	}
}
