package main

import (
	"os"
	"path/filepath"
	"testing"

	"LaneDetServer/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFallsBackToDefaults(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.Default().Engine(), cfg.Engine())
}

func TestLoadConfigRejectsBadTracker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tracker:\n  angleMin: 80\n"), 0o644))
	_, err := loadConfig(path)
	assert.Error(t, err)
}

func TestRunMissingVideo(t *testing.T) {
	err := run(filepath.Join(t.TempDir(), "nope.mp4"), filepath.Join(t.TempDir(), "missing.yaml"), 1)
	assert.Error(t, err)
}
