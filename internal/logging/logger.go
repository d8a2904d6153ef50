package logging

import (
	"fmt"
	"io"
	"log"
	"os"
)

// Logger is a leveled logger writing to stdout and, optionally, a file.
type Logger struct {
	file   *os.File
	logger *log.Logger
}

// New creates a logger. If filePath is empty, output goes to stdout only.
func New(filePath string) (*Logger, error) {
	var out io.Writer = os.Stdout
	var file *os.File
	if filePath != "" {
		f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		file = f
		out = io.MultiWriter(os.Stdout, f)
	}
	return &Logger{
		file:   file,
		logger: log.New(out, "", log.LstdFlags),
	}, nil
}

// Info logs an info message.
func (l *Logger) Info(msg string) {
	l.logger.Println("INFO: " + msg)
}

// Infof logs a formatted info message.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.Info(fmt.Sprintf(format, args...))
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string) {
	l.logger.Println("WARN: " + msg)
}

// Warnf logs a formatted warning message.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.Warn(fmt.Sprintf(format, args...))
}

// Error logs an error message.
func (l *Logger) Error(msg string) {
	l.logger.Println("ERROR: " + msg)
}

// Errorf logs a formatted error message.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.Error(fmt.Sprintf(format, args...))
}

// Close closes the log file, if one is open.
func (l *Logger) Close() {
	if l.file != nil {
		l.file.Close()
	}
}

// Discard returns a logger that drops everything. Used in tests.
func Discard() *Logger {
	return &Logger{logger: log.New(io.Discard, "", 0)}
}
