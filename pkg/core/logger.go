package core

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// NewLogger builds the client logger. Unknown levels fall back to info and
// a nil writer logs to stderr.
func NewLogger(level string, w io.Writer) *log.Logger {
	if w == nil {
		w = os.Stderr
	}

	lvl, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = log.InfoLevel
	}

	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		Prefix:          "recall",
		Level:           lvl,
	})
}
