// Package config loads the Citadel gateway configuration.
//
// Configuration lives in ~/.citadel/citadel.toml. A missing file is not an
// error: all settings have working defaults so a fresh install can run
// `citadel serve` with no setup.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ConfigFilename is the config file name inside the user dir.
const ConfigFilename = "citadel.toml"

// DefaultServerPort is the default central server port.
const DefaultServerPort = 24282

// DefaultFleetPort is the default fleet dashboard port.
const DefaultFleetPort = 24300

// DefaultContext is the execution context name used when none is given.
const DefaultContext = "desktop"

// DefaultModes are the mode names activated for new sessions when the
// config file does not override them.
var DefaultModes = []string{"interactive", "editing"}

// Config is the full gateway configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Projects []ProjectEntry `toml:"projects"`
	Modes    []string       `toml:"modes"`
	Contexts []string       `toml:"contexts"`
}

// ServerConfig holds central server settings.
type ServerConfig struct {
	Port    int    `toml:"port"`
	Context string `toml:"context"`
}

// ProjectEntry is one registered project in the config file.
type ProjectEntry struct {
	Name string `toml:"name"`
	Root string `toml:"root"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Port: DefaultServerPort, Context: DefaultContext},
		Modes:    append([]string(nil), DefaultModes...),
		Contexts: []string{"desktop", "ide", "agent"},
	}
}

// UserDir returns the per-user Citadel directory (~/.citadel), creating it
// if needed.
func UserDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	dir := filepath.Join(home, ".citadel")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating citadel directory: %w", err)
	}
	return dir, nil
}

// Load reads the config file at path. A missing file yields Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultServerPort
	}
	if cfg.Server.Context == "" {
		cfg.Server.Context = DefaultContext
	}
	if len(cfg.Modes) == 0 {
		cfg.Modes = append([]string(nil), DefaultModes...)
	}
	return cfg, nil
}

// LoadUser reads the config from the user dir, falling back to defaults.
func LoadUser() (*Config, error) {
	dir, err := UserDir()
	if err != nil {
		return nil, err
	}
	return Load(filepath.Join(dir, ConfigFilename))
}

// ModeNames returns the configured mode catalog.
func (c *Config) ModeNames() []string {
	return append([]string(nil), c.Modes...)
}

// ContextNames returns the configured context catalog.
func (c *Config) ContextNames() []string {
	return append([]string(nil), c.Contexts...)
}
