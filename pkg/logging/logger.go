package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Logger provides line-oriented logging for almamerge components.
// Every run writes to one log file named after the instruction file, and
// each line is mirrored to stdout.
//
// All log methods (Debugf, Infof, Warnf, Errorf) write unconditionally.
// There is currently no log level filtering.
type Logger struct {
	component string
	sink      *sink
}

// sink is shared by a root logger and all loggers derived from it with With.
type sink struct {
	runID     string
	file      *os.File
	logger    *log.Logger
	mu        sync.Mutex
	logPath   string
	closeOnce sync.Once
}

// timeNow is replaced in tests.
var timeNow = time.Now

// LogFileName returns the log file name used for an instruction file:
// <base name without extension>_<yyyymmdd-hhmmss>.log
func LogFileName(inputPath string, at time.Time) string {
	base := filepath.Base(inputPath)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return fmt.Sprintf("%s_%s.log", base, at.Format("20060102-150405"))
}

// NewLogger creates the root logger for one run over inputPath. The log
// file is created in dir, which is created if needed.
//
// If the directory or the file cannot be created, it returns a fallback
// logger that writes to stdout only, along with the error. Callers can
// check the error to detect fallback mode and log a warning.
func NewLogger(dir, inputPath, component string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return newFallbackLogger(component, fmt.Errorf("failed to create log directory: %w", err)), err
	}

	logPath := filepath.Join(dir, LogFileName(inputPath, timeNow()))
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return newFallbackLogger(component, fmt.Errorf("failed to open log file: %w", err)), err
	}

	return &Logger{
		component: component,
		sink: &sink{
			runID:   uuid.New().String(),
			file:    file,
			logger:  log.New(io.MultiWriter(file, os.Stdout), "", 0), // We'll format timestamps ourselves
			logPath: logPath,
		},
	}, nil
}

// NewWriterLogger creates a logger that writes to w only. Useful for tests
// and for tools that do not need a log file.
func NewWriterLogger(component string, w io.Writer) *Logger {
	return &Logger{
		component: component,
		sink: &sink{
			runID:  uuid.New().String(),
			logger: log.New(w, "", 0),
		},
	}
}

// newFallbackLogger creates a logger that writes to stdout when file logging fails
func newFallbackLogger(component string, err error) *Logger {
	l := NewWriterLogger(component, os.Stdout)
	l.Warnf("Failed to initialize file logging: %v", err)
	l.Warnf("Falling back to stdout logging")
	return l
}

// With returns a logger for another component writing to the same sink.
func (l *Logger) With(component string) *Logger {
	return &Logger{component: component, sink: l.sink}
}

// formatLogEntry creates a structured log entry with timestamp, component, and level
func (l *Logger) formatLogEntry(level, message string) string {
	timestamp := timeNow().Format("2006-01-02 15:04:05.000")
	return fmt.Sprintf("[%s] [%s] [%s] %s", timestamp, l.component, level, message)
}

func (l *Logger) write(level, format string, v ...interface{}) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	message := fmt.Sprintf(format, v...)
	l.sink.logger.Println(l.formatLogEntry(level, message))
}

// Debugf logs a debug-level message
func (l *Logger) Debugf(format string, v ...interface{}) {
	l.write("DEBUG", format, v...)
}

// Infof logs an info-level message
func (l *Logger) Infof(format string, v ...interface{}) {
	l.write("INFO", format, v...)
}

// Warnf logs a warning-level message
func (l *Logger) Warnf(format string, v ...interface{}) {
	l.write("WARN", format, v...)
}

// Errorf logs an error-level message
func (l *Logger) Errorf(format string, v ...interface{}) {
	l.write("ERROR", format, v...)
}

// RunID returns the identifier of the current run.
func (l *Logger) RunID() string {
	return l.sink.runID
}

// LogPath returns the path to the log file, or "" in fallback mode.
func (l *Logger) LogPath() string {
	return l.sink.logPath
}

// Close closes the log file. Safe to call multiple times.
func (l *Logger) Close() error {
	var err error
	l.sink.closeOnce.Do(func() {
		if l.sink.file != nil {
			err = l.sink.file.Close()
		}
	})
	return err
}
