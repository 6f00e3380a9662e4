package internal

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/tinyland-inc/craig/pkg/config"
	"github.com/tinyland-inc/craig/pkg/logger"
)

const Logo = "🎮"

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

// ConfigPathOverride is set by the root --config flag.
var ConfigPathOverride string

func GetConfigDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".craig")
}

// GetConfigPath returns the config file to use: the --config flag, then
// CRAIG_CONFIG, then ~/.craig/config.yaml if it exists, then
// ~/.craig/config.json.
func GetConfigPath() string {
	if ConfigPathOverride != "" {
		return config.ExpandHome(ConfigPathOverride)
	}
	if p := os.Getenv("CRAIG_CONFIG"); p != "" {
		return config.ExpandHome(p)
	}
	yamlPath := filepath.Join(GetConfigDir(), "config.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return yamlPath
	}
	return filepath.Join(GetConfigDir(), "config.json")
}

// LoadConfig loads the config and applies its log settings.
func LoadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(GetConfigPath())
	if err != nil {
		return nil, err
	}
	ApplyLogConfig(cfg.Log)
	return cfg, nil
}

func ApplyLogConfig(lc config.LogConfig) {
	if lc.Format != "" {
		logger.SetFormat(lc.Format)
	}
	if lc.Level != "" {
		logger.SetLevel(logger.ParseLevel(lc.Level))
	}
}

// FormatVersion returns the version string with optional git commit
func FormatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

// FormatBuildInfo returns build time and go version info
func FormatBuildInfo() (string, string) {
	build := buildTime
	goVer := goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	return build, goVer
}

func GetVersion() string {
	return version
}
