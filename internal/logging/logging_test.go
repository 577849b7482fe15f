package logging

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/petems/miclock/internal/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolateLogDir(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_STATE_HOME", dir)
	t.Setenv("LOCALAPPDATA", dir)
	homedir.DisableCache = true
	t.Cleanup(func() { homedir.DisableCache = false })
}

func TestNewWithLevel(t *testing.T) {
	isolateLogDir(t)

	tests := []struct {
		level string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"WARN", zerolog.WarnLevel},
		{"", zerolog.InfoLevel},
		{"chatty", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			log := NewWithLevel(tt.level)
			assert.Equal(t, tt.want, log.GetLevel())
		})
	}
}

func TestLogFileIsWritten(t *testing.T) {
	isolateLogDir(t)

	log := NewWithLevel("info")
	log.Info().Str("device", "A").Msg("Reconciled default input")

	require.Eventually(t, func() bool {
		info, err := os.Stat(config.LogPath())
		return err == nil && info.Size() > 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "miclock.log", filepath.Base(config.LogPath()))
}
