package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileLogger appends human-readable engine events to
// <project>/logs/ralph-ultra.log, one line per event:
//
//	[ISO timestamp] [LEVEL] message
//
// It is thread-safe and supports level filtering. SetLevel switches the
// threshold at runtime (used by the engine's debug mode).
type FileLogger struct {
	mu       sync.Mutex
	file     *os.File
	path     string
	logLevel string
}

// NewFileLogger opens (appending) the engine log for a project directory.
func NewFileLogger(projectDir string, logLevel string) (*FileLogger, error) {
	logDir := filepath.Join(projectDir, "logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	path := filepath.Join(logDir, "ralph-ultra.log")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open engine log: %w", err)
	}

	return &FileLogger{
		file:     file,
		path:     path,
		logLevel: normalizeLogLevel(logLevel),
	}, nil
}

// Path returns the log file location.
func (fl *FileLogger) Path() string {
	return fl.path
}

// SetLevel changes the filtering threshold at runtime.
func (fl *FileLogger) SetLevel(level string) {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	fl.logLevel = normalizeLogLevel(level)
}

func (fl *FileLogger) log(level, message string) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if logLevelToInt(level) < logLevelToInt(fl.logLevel) {
		return
	}
	if fl.file == nil {
		return
	}

	line := fmt.Sprintf("[%s] [%s] %s\n", time.Now().Format(time.RFC3339), levelTag(level), message)
	fl.file.WriteString(line)
	fl.file.Sync()
}

// LogTrace logs a trace-level message.
func (fl *FileLogger) LogTrace(message string) { fl.log(LevelTrace, message) }

// LogDebug logs a debug-level message.
func (fl *FileLogger) LogDebug(message string) { fl.log(LevelDebug, message) }

// LogInfo logs an info-level message.
func (fl *FileLogger) LogInfo(message string) { fl.log(LevelInfo, message) }

// LogWarn logs a warning-level message.
func (fl *FileLogger) LogWarn(message string) { fl.log(LevelWarn, message) }

// LogError logs an error-level message.
func (fl *FileLogger) LogError(message string) { fl.log(LevelError, message) }

// Close flushes and closes the log file.
func (fl *FileLogger) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.file == nil {
		return nil
	}
	if err := fl.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync engine log: %w", err)
	}
	err := fl.file.Close()
	fl.file = nil
	if err != nil {
		return fmt.Errorf("failed to close engine log: %w", err)
	}
	return nil
}
