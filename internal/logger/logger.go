// Package logger provides a thin, named wrapper around github.com/cenkalti/log
// so every component in the engine logs through one shared handler.
package logger

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cenkalti/log"
)

var handler log.Handler

func init() {
	SetHandler(log.NewFileHandler(os.Stderr))
}

// SetHandler changes the global logging handler.
func SetHandler(h log.Handler) {
	handler = h
	handler.SetFormatter(lineFormatter{})
}

// SetLevel sets the logging level on the global handler.
func SetLevel(l log.Level) {
	handler.SetLevel(l)
}

// Logger is used by components to emit leveled, named log messages.
type Logger log.Logger

// New returns a Logger whose messages are prefixed with name.
func New(name string) Logger {
	l := log.NewLogger(name)
	l.SetLevel(log.DEBUG) // handler applies the real filtering
	l.SetHandler(handler)
	return l
}

// lineFormatter renders one log line level-first, so a grep for a severity
// lines up regardless of how wide the logger name or source location is:
//
//	ERROR   2026-08-06T09:14:02 [scheduler] schedule.go:41: session died mid-scheduling
type lineFormatter struct{}

func (lineFormatter) Format(rec *log.Record) string {
	var b strings.Builder
	b.WriteString(padRight(rec.Level.String(), 7))
	b.WriteByte(' ')
	b.WriteString(rec.Time.Format("2006-01-02T15:04:05"))
	b.WriteString(" [")
	b.WriteString(rec.LoggerName)
	b.WriteString("] ")
	b.WriteString(filepath.Base(rec.Filename))
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(rec.Line))
	b.WriteString(": ")
	b.WriteString(rec.Message)
	return b.String()
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}
