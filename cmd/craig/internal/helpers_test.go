package internal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/craig/pkg/config"
	"github.com/tinyland-inc/craig/pkg/logger"
)

func TestGetConfigPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("CRAIG_CONFIG", "")
	ConfigPathOverride = ""
	t.Cleanup(func() { ConfigPathOverride = "" })

	assert.Equal(t, filepath.Join(home, ".craig", "config.json"), GetConfigPath())

	require.NoError(t, os.MkdirAll(filepath.Join(home, ".craig"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(home, ".craig", "config.yaml"), []byte("{}"), 0o600))
	assert.Equal(t, filepath.Join(home, ".craig", "config.yaml"), GetConfigPath())

	t.Setenv("CRAIG_CONFIG", "/etc/craig.json")
	assert.Equal(t, "/etc/craig.json", GetConfigPath())

	ConfigPathOverride = "~/custom.yml"
	assert.Equal(t, filepath.Join(home, "custom.yml"), GetConfigPath())
}

func TestLoadConfig_AppliesLogLevel(t *testing.T) {
	prev := logger.GetLevel()
	t.Cleanup(func() { logger.SetLevel(prev) })

	path := filepath.Join(t.TempDir(), "config.json")
	cfg := config.DefaultConfig()
	cfg.Log.Level = "warn"
	require.NoError(t, config.SaveConfig(path, cfg))

	ConfigPathOverride = path
	t.Cleanup(func() { ConfigPathOverride = "" })

	_, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, logger.WARN, logger.GetLevel())
}

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "dev", FormatVersion())

	gitCommit = "abc123"
	t.Cleanup(func() { gitCommit = "" })
	assert.Equal(t, "dev (git: abc123)", FormatVersion())

	_, goVer := FormatBuildInfo()
	assert.NotEmpty(t, goVer)
}
