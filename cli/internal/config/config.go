package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/zhaobenny/picost/internal/parser"
	"gopkg.in/yaml.v3"
)

// Config holds the CLI configuration
type Config struct {
	SessionsDir string `yaml:"sessions_dir,omitempty"`
	Workers     int    `yaml:"workers,omitempty"`
	Server      string `yaml:"server,omitempty"`
	APIKey      string `yaml:"api_key,omitempty"`
	ClientID    string `yaml:"client_id,omitempty"`
}

// Path returns the path to the config file
func Path() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".picost.yaml"), nil
}

// Load loads the configuration from disk. A missing file yields an empty config.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// LoadFile loads the configuration from path
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save saves the configuration to disk
func Save(cfg *Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	return SaveFile(cfg, path)
}

// SaveFile writes the configuration to path, minting a client ID if unset
func SaveFile(cfg *Config, path string) error {
	if cfg.ClientID == "" {
		cfg.ClientID = uuid.NewString()
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// SessionsRoot returns the configured sessions directory, defaulting to
// ~/.pi/agent/sessions. A leading ~ is expanded.
func (c *Config) SessionsRoot() (string, error) {
	dir := c.SessionsDir
	if dir != "" && dir != "~" && !strings.HasPrefix(dir, "~/") {
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	switch {
	case dir == "":
		return filepath.Join(home, parser.DefaultSessionsDir), nil
	case dir == "~":
		return home, nil
	default:
		return filepath.Join(home, dir[2:]), nil
	}
}

// SyncConfigured reports whether server sync has been set up
func (c *Config) SyncConfigured() bool {
	return c.Server != "" && c.APIKey != ""
}
