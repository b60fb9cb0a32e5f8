// Package logging builds the structured loggers shared by every component.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// New returns a logger writing to w at the given level ("debug", "info",
// "warn", "error"). Unknown levels fall back to info.
func New(w io.Writer, level string) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	l := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		Prefix:          "aime",
	})
	lvl, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = log.InfoLevel
	}
	l.SetLevel(lvl)
	return l
}

// Discard returns a logger that drops everything.
func Discard() *log.Logger {
	l := log.New(io.Discard)
	l.SetLevel(log.FatalLevel)
	return l
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l *log.Logger) *log.Logger {
	if l == nil {
		return Discard()
	}
	return l
}

// SetVerbose switches l between debug and info.
func SetVerbose(l *log.Logger, verbose bool) {
	if verbose {
		l.SetLevel(log.DebugLevel)
	} else {
		l.SetLevel(log.InfoLevel)
	}
}

// Preview shortens turn content for log lines.
func Preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= 50 {
		return s
	}
	return string(r[:50]) + "..."
}
