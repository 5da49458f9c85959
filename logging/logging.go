// Package logging builds the client's structured logger from config and
// provides a size-rotated file writer for the file-output case.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Setup constructs a JSON slog.Logger per the logging settings. Output is
// stdout, stderr, or a rotated file; the returned closer is non-nil only
// for file output.
func Setup(output, level string, maxSizeMB, maxBackups, maxAgeDays int) (*slog.Logger, io.Closer, error) {
	var w io.Writer
	var closer io.Closer

	switch output {
	case "", "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		rw, err := NewRotatingWriter(output, maxSizeMB, maxBackups, maxAgeDays)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log output: %w", err)
		}
		w = rw
		closer = rw
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	return slog.New(handler), closer, nil
}

// ParseLevel maps a config level string to a slog.Level. Unknown or empty
// values mean Info.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
