package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/petems/miclock/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withFlags(t *testing.T, file, level string) {
	t.Helper()
	oldFile, oldLevel, oldCfg := cfgFile, logLevel, cfg
	cfgFile, logLevel = file, level
	t.Cleanup(func() { cfgFile, logLevel, cfg = oldFile, oldLevel, oldCfg })
}

func TestInitConfigAppliesLogLevelFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"backend": "pulse"}`), 0644))
	withFlags(t, path, "debug")

	require.NoError(t, initConfig())
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, config.BackendPulse, cfg.Backend)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "selection.json"), cfg.SelectionPath())
}

func TestInitConfigRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"backend": "jack"}`), 0644))
	withFlags(t, path, "")

	err := initConfig()
	assert.ErrorContains(t, err, "invalid config")
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["devices"])
	assert.True(t, names["version"])
}
