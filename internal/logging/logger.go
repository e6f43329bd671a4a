// Package logging provides a small level-based logger shared by every
// engine component. All output goes to stderr so it never collides with
// a bus client reading JSON off stdout.
package logging

import (
	"io"
	"log"
	"os"
)

type Logger struct {
	debugEnabled bool
	infoLogger   *log.Logger
	debugLogger  *log.Logger
}

var globalLogger *Logger

// Initialize sets up the global logger with debug mode setting.
func Initialize(debugMode bool) {
	var output io.Writer = os.Stderr

	globalLogger = &Logger{
		debugEnabled: debugMode,
		infoLogger:   log.New(output, "", log.LstdFlags),
		debugLogger:  log.New(output, "", log.LstdFlags),
	}
}

func ensure() {
	if globalLogger == nil {
		Initialize(false)
	}
}

// Info logs informational messages (always shown).
func Info(format string, args ...interface{}) {
	ensure()
	globalLogger.infoLogger.Printf(format, args...)
}

// Debug logs debug messages (only shown when debug mode is enabled).
func Debug(format string, args ...interface{}) {
	ensure()
	if globalLogger.debugEnabled {
		globalLogger.debugLogger.Printf("DEBUG: "+format, args...)
	}
}

// Error logs error messages (always shown).
func Error(format string, args ...interface{}) {
	ensure()
	globalLogger.infoLogger.Printf("ERROR: "+format, args...)
}

// IsDebugEnabled returns true if debug logging is enabled.
func IsDebugEnabled() bool {
	ensure()
	return globalLogger.debugEnabled
}

// Component returns a logger prefixed with "<name>: ", replacing the
// hand-written "witness: "/"bus: "/"store: " string prefixes every
// concurrent subsystem (engine, witness, bus, dispatch, schedule, store)
// used to bake into each format string by hand. A dedicated type exists
// because, unlike the teacher's single-process CLI, this engine runs
// several of those subsystems as goroutines whose log lines interleave,
// so tagging the source consistently is worth its own helper rather than
// a convention every call site has to remember.
type ComponentLogger struct {
	name string
}

// Component builds a ComponentLogger for name.
func Component(name string) ComponentLogger {
	return ComponentLogger{name: name}
}

// Info logs an informational message tagged with the component name.
func (c ComponentLogger) Info(format string, args ...interface{}) {
	Info(c.name+": "+format, args...)
}

// Debug logs a debug message tagged with the component name.
func (c ComponentLogger) Debug(format string, args ...interface{}) {
	Debug(c.name+": "+format, args...)
}

// Error logs an error message tagged with the component name.
func (c ComponentLogger) Error(format string, args ...interface{}) {
	Error(c.name+": "+format, args...)
}
