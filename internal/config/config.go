// Package config implements TOML configuration loading and validation for
// torrentbridge. Defaults apply first; a config file overrides them
// field by field.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Qbittorrent QbittorrentConfig `toml:"qbittorrent"`
	AMQP        AMQPConfig        `toml:"amqp"`
	Monitor     MonitorConfig     `toml:"monitor"`
	Store       StoreConfig       `toml:"store"`
	Categories  []string          `toml:"categories"`
	LogLevel    string            `toml:"log_level"`
}

// QbittorrentConfig locates and authenticates against the WebUI.
type QbittorrentConfig struct {
	URL      string `toml:"url"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	Timeout  string `toml:"timeout"`
}

// AMQPConfig names the broker endpoints. Exchange carries the lifecycle
// events; NotifyExchange carries alerts; CommandQueue feeds the consumer.
type AMQPConfig struct {
	URL            string `toml:"url"`
	Exchange       string `toml:"exchange"`
	NotifyExchange string `toml:"notify_exchange"`
	CommandQueue   string `toml:"command_queue"`
}

// MonitorConfig tunes the reconciliation engine.
type MonitorConfig struct {
	PollInterval   string `toml:"poll_interval"`
	AlertThreshold string `toml:"alert_threshold"`
	ServiceName    string `toml:"service_name"`
}

// StoreConfig locates the tracked-set database.
type StoreConfig struct {
	Path string `toml:"path"`
}

// Load reads the config file at path on top of defaults. A missing file is
// an error: the daemon cannot run without broker and WebUI credentials.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: decoding %s: %w", path, err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config: unknown keys in %s: %v", path, undecoded)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Write serializes the config to path, used by `torrentbridge config init`.
func (c *Config) Write(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("config: creating %s: %w", path, err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("config: encoding %s: %w", path, err)
	}

	return nil
}

// Duration accessors. Valid only after Validate has succeeded.

// HTTPTimeout returns the WebUI request timeout.
func (c *Config) HTTPTimeout() time.Duration {
	return mustDuration(c.Qbittorrent.Timeout)
}

// PollInterval returns the reconciliation cadence.
func (c *Config) PollInterval() time.Duration {
	return mustDuration(c.Monitor.PollInterval)
}

// AlertThreshold returns the continuous-failure duration that triggers the
// one-shot alert.
func (c *Config) AlertThreshold() time.Duration {
	return mustDuration(c.Monitor.AlertThreshold)
}

func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		panic(fmt.Sprintf("config: duration %q not validated: %v", s, err))
	}

	return d
}
