package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// ConsoleLogger writes leveled, optionally colored messages to a writer.
// Color is enabled only when the writer is a terminal.
type ConsoleLogger struct {
	mu       sync.Mutex
	out      io.Writer
	logLevel string

	infoColor  *color.Color
	warnColor  *color.Color
	errorColor *color.Color
	debugColor *color.Color
}

// NewConsoleLogger creates a console logger writing to stderr.
func NewConsoleLogger(logLevel string) *ConsoleLogger {
	return NewConsoleLoggerWithWriter(os.Stderr, logLevel)
}

// NewConsoleLoggerWithWriter creates a console logger with a custom writer.
// Useful for tests.
func NewConsoleLoggerWithWriter(out io.Writer, logLevel string) *ConsoleLogger {
	cl := &ConsoleLogger{
		out:        out,
		logLevel:   normalizeLogLevel(logLevel),
		infoColor:  color.New(color.FgCyan),
		warnColor:  color.New(color.FgYellow),
		errorColor: color.New(color.FgRed, color.Bold),
		debugColor: color.New(color.Faint),
	}

	// Disable color for non-terminal writers.
	if f, ok := out.(*os.File); !ok || !isatty.IsTerminal(f.Fd()) {
		for _, c := range []*color.Color{cl.infoColor, cl.warnColor, cl.errorColor, cl.debugColor} {
			c.DisableColor()
		}
	}

	return cl
}

// SetLevel changes the filtering threshold at runtime.
func (cl *ConsoleLogger) SetLevel(level string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.logLevel = normalizeLogLevel(level)
}

func (cl *ConsoleLogger) shouldLog(level string) bool {
	return logLevelToInt(level) >= logLevelToInt(cl.logLevel)
}

func (cl *ConsoleLogger) write(c *color.Color, level, message string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if !cl.shouldLog(level) {
		return
	}

	ts := time.Now().Format("15:04:05")
	line := fmt.Sprintf("[%s] %s %s\n", ts, c.Sprintf("[%s]", levelTag(level)), message)
	fmt.Fprint(cl.out, line)
}

func levelTag(level string) string {
	switch level {
	case LevelTrace:
		return "TRACE"
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	}
	return "INFO"
}

// LogTrace logs a trace-level message (most verbose).
func (cl *ConsoleLogger) LogTrace(message string) { cl.write(cl.debugColor, LevelTrace, message) }

// LogDebug logs a debug-level message.
func (cl *ConsoleLogger) LogDebug(message string) { cl.write(cl.debugColor, LevelDebug, message) }

// LogInfo logs an info-level message.
func (cl *ConsoleLogger) LogInfo(message string) { cl.write(cl.infoColor, LevelInfo, message) }

// LogWarn logs a warning-level message.
func (cl *ConsoleLogger) LogWarn(message string) { cl.write(cl.warnColor, LevelWarn, message) }

// LogError logs an error-level message.
func (cl *ConsoleLogger) LogError(message string) { cl.write(cl.errorColor, LevelError, message) }
