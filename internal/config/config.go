package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Device   DeviceConfig  `yaml:"device"`
	Timeouts TimeoutConfig `yaml:"timeouts"`
	LogLevel string        `yaml:"log_level"`
}

// DeviceConfig optionally pins a known logger so commands skip the
// interactive scan.
type DeviceConfig struct {
	Address string `yaml:"address"` // MAC (Linux/Windows) or CoreBluetooth UUID (macOS)
	Name    string `yaml:"name"`
}

// TimeoutConfig holds BLE operation timeouts in seconds.
type TimeoutConfig struct {
	ScanSeconds    int `yaml:"scan_seconds"`
	ConnectSeconds int `yaml:"connect_seconds"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "floralog")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Timeouts: TimeoutConfig{
			ScanSeconds:    15,
			ConnectSeconds: 10,
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Timeouts.ScanSeconds <= 0 {
		return fmt.Errorf("timeouts.scan_seconds must be > 0")
	}
	if c.Timeouts.ConnectSeconds <= 0 {
		return fmt.Errorf("timeouts.connect_seconds must be > 0")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}
