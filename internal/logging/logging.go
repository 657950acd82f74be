// Package logging constructs the process-wide zerolog.Logger that the CLI
// builds and attaches via SetLogger to sync2.Teacher and vmap.Pipeline.
// Generalizes the teacher's colors package (NO_COLOR-aware, TTY-detecting
// terminal output) from ad hoc fmt.Printf colorizing to zerolog's own
// ConsoleWriter, which implements the same NO_COLOR/TTY-detection concern
// as a structured logger's human-readable sink.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// New builds a zerolog.Logger writing to w (typically os.Stderr) at level,
// using zerolog's console writer for human-readable output, with color
// disabled when NO_COLOR is set or w is not a terminal (any writer other
// than a character-device *os.File), matching the teacher's own color-detection
// rule in internal/colors.
func New(w io.Writer, level string) zerolog.Logger {
	out := consoleWriter(w)
	l := zerolog.New(out).With().Timestamp().Logger()
	return l.Level(parseLevel(level))
}

func consoleWriter(w io.Writer) io.Writer {
	noColor := os.Getenv("NO_COLOR") != ""
	if f, ok := w.(*os.File); ok {
		if fi, err := f.Stat(); err == nil {
			if fi.Mode()&os.ModeCharDevice == 0 {
				noColor = true
			}
		}
	} else {
		noColor = true
	}
	return zerolog.ConsoleWriter{Out: w, NoColor: noColor, TimeFormat: "15:04:05"}
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off", "none":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
