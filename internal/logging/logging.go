package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jrick/logrotate/rotator"
	"github.com/petems/miclock/internal/config"
	"github.com/rs/zerolog"
)

const (
	rotateThresholdKB = 1024
	rotateMaxRolls    = 3
)

// NewWithLevel creates a zerolog logger with console and rotated file output
// at a minimum level such as "debug" or "warn". Unknown levels fall back to
// info.
func NewWithLevel(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}

	var out io.Writer = console
	if file, err := openLogFile(config.LogPath()); err == nil {
		// Multi-writer: console + file
		out = zerolog.MultiLevelWriter(console, file)
	}

	return zerolog.New(out).Level(lvl).With().Timestamp().Caller().Logger()
}

// openLogFile returns a size-rotated writer for path
func openLogFile(path string) (*rotator.Rotator, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return rotator.New(path, rotateThresholdKB, true, rotateMaxRolls)
}
