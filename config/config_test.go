package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
RPCPort: 6000
workersNum: 4
tracker:
  angleMin: 25
  maxLastCounter: 8
extractor:
  votes: 40
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	want := Default()
	want.RPCPort = 6000
	want.WorkersNum = 4
	want.Tracker.AngleMin = 25
	want.Tracker.MaxLastCounter = 8
	want.Extractor.Votes = 40
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("Load (-want +got):\n%s", diff)
	}
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, cfg.Tracker, cfg.Engine().Tracker)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "RPCPort: [1, 2"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.HTTPPort = 70000 }},
		{"sessions", func(c *Config) { c.MaxSessions = 0 }},
		{"idle", func(c *Config) { c.IdleTimeoutMs = -1 }},
		{"log mode", func(c *Config) { c.LogMode = "loud" }},
		{"registry host", func(c *Config) { c.UseRegServer, c.RegServerHost = true, "" }},
		{"tracker", func(c *Config) { c.Tracker.AngleMin = c.Tracker.AngleMax }},
		{"extractor", func(c *Config) { c.Extractor.CannyLowRatio = 2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
