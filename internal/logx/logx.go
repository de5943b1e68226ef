// Package logx is a thin wrapper around the standard library's log
// package, adding level prefixes. The corpus has no structured logging
// dependency anywhere, so this stays on stdlib rather than introducing
// one just for Recall's own diagnostics.
package logx

import (
	"io"
	"log"
	"os"
)

// Logger writes level-prefixed lines to an underlying *log.Logger.
type Logger struct {
	std *log.Logger
}

// New builds a Logger writing to w with the standard date/time prefix.
func New(w io.Writer) *Logger {
	return &Logger{std: log.New(w, "", log.LstdFlags)}
}

// Default writes to stderr, matching the teacher's bare `log.Println`
// call sites (which all go to the default logger's stderr output).
func Default() *Logger {
	return New(os.Stderr)
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.std.Printf("INFO  "+format, args...)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.std.Printf("WARN  "+format, args...)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.std.Printf("ERROR "+format, args...)
}
