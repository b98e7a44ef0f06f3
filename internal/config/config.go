// Package config provides TOML configuration file loading and parsing for
// the bridge daemon. The configuration file lives at ~/.appbridge/config.toml
// by default, but can be overridden with the --config flag. CLI flags always
// take precedence over file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the bridge configuration file structure.
// Field names use Go camelCase internally but map to snake_case in TOML
// files via struct tags.
type Config struct {
	// Addr is the host:port for the WebSocket server.
	// Default: 0.0.0.0:8765
	Addr string `toml:"addr"`

	// Store is the path to the SQLite database for device history and
	// command metrics.
	// Default: ~/.appbridge/appbridge.db
	Store string `toml:"store"`

	// HandshakeTimeoutMs is how long a new connection may remain silent
	// before it is closed without registering a device, in milliseconds.
	// Default: 5000
	HandshakeTimeoutMs int `toml:"handshake_timeout_ms"`

	// CommandTimeoutMs is how long the router waits for a command reply
	// before failing the caller, in milliseconds.
	// Default: 10000
	CommandTimeoutMs int `toml:"command_timeout_ms"`

	// MdnsEnabled enables mDNS/Bonjour service advertisement.
	// When true, the bridge advertises itself on the local network,
	// allowing mobile SDKs to discover it without manual IP entry.
	// Default: false (disabled - must be explicitly enabled)
	MdnsEnabled bool `toml:"mdns_enabled"`

	// QR displays the WebSocket URL as a terminal QR code on startup,
	// for scanning from the mobile app's connect screen.
	// Default: false
	QR bool `toml:"qr"`
}

// DefaultConfigPath returns the default config file location: ~/.appbridge/config.toml.
// Returns an error only if the user's home directory cannot be determined.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".appbridge", "config.toml"), nil
}

// DefaultStorePath returns the default SQLite database location:
// ~/.appbridge/appbridge.db.
func DefaultStorePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".appbridge", "appbridge.db"), nil
}

// Load reads a TOML config file from the given path and returns a Config.
//
// Behavior:
//   - If path is empty, attempts to load from the default location
//     (~/.appbridge/config.toml). Returns an empty Config without error if
//     the default file doesn't exist.
//   - If path is specified, returns an error if the file doesn't exist.
//   - Returns an error if the file exists but cannot be parsed.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		// No explicit path: try default location, but don't error if missing.
		// This allows the bridge to start without any config file.
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			// Can't determine home dir, return empty config
			return cfg, nil
		}
		if _, err := os.Stat(defaultPath); os.IsNotExist(err) {
			// Default config doesn't exist, that's fine
			return cfg, nil
		}
		path = defaultPath
	} else {
		// Explicit path provided: error if file doesn't exist.
		// This matches user expectation: if they specify a config file, it should exist.
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	}

	// Parse the TOML file. Any parse error is fatal since the user expects
	// the config to be applied.
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}

// ApplyDefaults fills in zero-valued fields with defaults.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.Store == "" {
		if p, err := DefaultStorePath(); err == nil {
			c.Store = p
		}
	}
	if c.HandshakeTimeoutMs == 0 {
		c.HandshakeTimeoutMs = DefaultHandshakeTimeoutMs
	}
	if c.CommandTimeoutMs == 0 {
		c.CommandTimeoutMs = DefaultCommandTimeoutMs
	}
}
