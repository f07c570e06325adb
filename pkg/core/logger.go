package core

import (
	"fmt"
	"log"
	"os"
)

// Logger provides structured logging capabilities.
// This abstraction allows swapping logging implementations.
type Logger interface {
	// Error logs an error message
	Error(args ...interface{})

	// Errorf logs a formatted error message
	Errorf(format string, args ...interface{})

	// Warn logs a warning message
	Warn(args ...interface{})

	// Warnf logs a formatted warning message
	Warnf(format string, args ...interface{})

	// Info logs an informational message
	Info(args ...interface{})

	// Infof logs a formatted informational message
	Infof(format string, args ...interface{})

	// Debug logs a debug message
	Debug(args ...interface{})

	// Debugf logs a formatted debug message
	Debugf(format string, args ...interface{})
}

// defaultLogger implements Logger using Go's standard log package.
// Can be swapped with other logging implementations (e.g., structured loggers).
type defaultLogger struct {
	errorLogger *log.Logger
	warnLogger  *log.Logger
	infoLogger  *log.Logger
	debugLogger *log.Logger
}

// NewDefaultLogger creates a new default logger implementation.
func NewDefaultLogger() Logger {
	return NewComponentLogger("")
}

// NewComponentLogger creates a logger whose lines carry a component tag,
// e.g. "[INFO] [broker] worker registered".
func NewComponentLogger(component string) Logger {
	tag := ""
	if component != "" {
		tag = "[" + component + "] "
	}
	return &defaultLogger{
		errorLogger: log.New(os.Stderr, "[ERROR] "+tag, log.LstdFlags),
		warnLogger:  log.New(os.Stderr, "[WARN] "+tag, log.LstdFlags),
		infoLogger:  log.New(os.Stdout, "[INFO] "+tag, log.LstdFlags),
		debugLogger: log.New(os.Stdout, "[DEBUG] "+tag, log.LstdFlags),
	}
}

func (l *defaultLogger) Error(args ...interface{}) {
	l.errorLogger.Output(3, fmt.Sprint(args...))
}

func (l *defaultLogger) Errorf(format string, args ...interface{}) {
	l.errorLogger.Output(3, fmt.Sprintf(format, args...))
}

func (l *defaultLogger) Warn(args ...interface{}) {
	l.warnLogger.Output(3, fmt.Sprint(args...))
}

func (l *defaultLogger) Warnf(format string, args ...interface{}) {
	l.warnLogger.Output(3, fmt.Sprintf(format, args...))
}

func (l *defaultLogger) Info(args ...interface{}) {
	l.infoLogger.Output(3, fmt.Sprint(args...))
}

func (l *defaultLogger) Infof(format string, args ...interface{}) {
	l.infoLogger.Output(3, fmt.Sprintf(format, args...))
}

func (l *defaultLogger) Debug(args ...interface{}) {
	l.debugLogger.Output(3, fmt.Sprint(args...))
}

func (l *defaultLogger) Debugf(format string, args ...interface{}) {
	l.debugLogger.Output(3, fmt.Sprintf(format, args...))
}
