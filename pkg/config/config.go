// Package config holds the panel's persisted configuration: where the Prizm
// server lives, how the panel authenticates, and the sync tunables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values exported for documentation and validation
const (
	DefaultHost = "localhost"
	DefaultPort = "4127"

	DefaultKeepAliveMax = 3

	DefaultAggregateDebounce = 400 * time.Millisecond
	DefaultListFastDebounce  = 100 * time.Millisecond
	DefaultListSlowDebounce  = 400 * time.Millisecond
)

// Push transport selection.
const (
	PushTransportWebSocket = "websocket"
	PushTransportNATS      = "nats"
)

// Config represents the complete panel configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Client   ClientConfig   `yaml:"client"`
	APIKey   string         `yaml:"api_key"`
	Push     PushConfig     `yaml:"push"`
	Sync     SyncConfig     `yaml:"sync"`
	Sessions SessionsConfig `yaml:"sessions"`
	LogDir   string         `yaml:"log_dir,omitempty"`
	CacheDB  string         `yaml:"cache_db,omitempty"`
}

// ServerConfig locates the Prizm server.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
}

// ClientConfig identifies this panel installation.
type ClientConfig struct {
	Name string `yaml:"name"`
}

// PushConfig selects how server change events reach the panel.
type PushConfig struct {
	Transport string `yaml:"transport"`
	NATSURL   string `yaml:"nats_url,omitempty"`
}

// SyncConfig tunes the debounce windows of the cache layer.
type SyncConfig struct {
	DocumentsDebounce time.Duration `yaml:"documents_debounce"`
	ClipboardDebounce time.Duration `yaml:"clipboard_debounce"`
	MemoryDebounce    time.Duration `yaml:"memory_debounce"`
	ListFastDebounce  time.Duration `yaml:"list_fast_debounce"`
	ListSlowDebounce  time.Duration `yaml:"list_slow_debounce"`
}

// SessionsConfig tunes the chat session layer.
type SessionsConfig struct {
	KeepAliveMax int `yaml:"keep_alive_max"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		Client: ClientConfig{
			Name: "prizm-panel",
		},
		Push: PushConfig{
			Transport: PushTransportWebSocket,
		},
		Sync: SyncConfig{
			DocumentsDebounce: DefaultAggregateDebounce,
			ClipboardDebounce: DefaultAggregateDebounce,
			MemoryDebounce:    DefaultAggregateDebounce,
			ListFastDebounce:  DefaultListFastDebounce,
			ListSlowDebounce:  DefaultListSlowDebounce,
		},
		Sessions: SessionsConfig{
			KeepAliveMax: DefaultKeepAliveMax,
		},
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	if home == "" {
		return "", fmt.Errorf("cannot determine home directory")
	}
	return filepath.Join(home, ".prizm", "config.yaml"), nil
}

// Load loads configuration from the default location, applying env overrides.
// A missing file yields the defaults.
func Load() (*Config, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from a specific file path. A missing file
// yields the defaults so a fresh install can register before ever saving.
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("loading config from %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to the given path, creating parent
// directories as needed. The file holds the API key, so it stays private.
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PRIZM_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("PRIZM_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("PRIZM_SERVER_PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("PRIZM_NATS_URL"); v != "" {
		cfg.Push.NATSURL = v
	}
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Host) == "" {
		return fmt.Errorf("server.host cannot be empty")
	}
	if strings.TrimSpace(c.Server.Port) == "" {
		return fmt.Errorf("server.port cannot be empty")
	}
	switch c.Push.Transport {
	case "", PushTransportWebSocket:
	case PushTransportNATS:
		if strings.TrimSpace(c.Push.NATSURL) == "" {
			return fmt.Errorf("push.nats_url required when push.transport is nats")
		}
	default:
		return fmt.Errorf("unknown push.transport %q", c.Push.Transport)
	}
	if c.Sessions.KeepAliveMax < 0 {
		return fmt.Errorf("sessions.keep_alive_max cannot be negative")
	}
	return nil
}

// ServerURL returns the HTTP base URL of the configured server.
func (c *Config) ServerURL() string {
	return fmt.Sprintf("http://%s:%s", c.Server.Host, c.Server.Port)
}

// EventSocketURL returns the websocket URL of the server's event stream.
func (c *Config) EventSocketURL() string {
	return fmt.Sprintf("ws://%s:%s/api/events", c.Server.Host, c.Server.Port)
}

// KeepAliveMax returns the configured keep-alive bound, falling back to the
// default when unset.
func (c *Config) KeepAliveMax() int {
	if c.Sessions.KeepAliveMax <= 0 {
		return DefaultKeepAliveMax
	}
	return c.Sessions.KeepAliveMax
}
