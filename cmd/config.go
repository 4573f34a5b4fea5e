// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/ember/pkg/node"
	"github.com/Thermoquad/ember/pkg/radio"
)

// Store kinds
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreSQLite = "sqlite"
)

// Discovery policy names
const (
	PolicyDefault = "default"
	PolicyLegacy  = "legacy"
)

// Config is the on-disk node configuration. Durations are Go duration
// strings ("250ms", "1s"); empty fields keep their defaults.
type Config struct {
	// Key and Secret are hex encoded (16 and 8 bytes)
	Key             string `toml:"key" yaml:"key"`
	Secret          string `toml:"secret" yaml:"secret"`
	FirmwareVersion uint32 `toml:"firmware_version" yaml:"firmware_version"`
	PANID           uint16 `toml:"pan_id" yaml:"pan_id"`
	TxPower         *int8  `toml:"tx_power" yaml:"tx_power"`

	RetryBackoff string `toml:"retry_backoff" yaml:"retry_backoff"`
	CollectIdle  string `toml:"collect_idle" yaml:"collect_idle"`
	WifiTimeout  string `toml:"wifi_timeout" yaml:"wifi_timeout"`
	RebootGrace  string `toml:"reboot_grace" yaml:"reboot_grace"`

	Discovery DiscoveryConfig `toml:"discovery" yaml:"discovery"`
	Store     StoreConfig     `toml:"store" yaml:"store"`
	BootState string          `toml:"boot_state" yaml:"boot_state"`
	OTA       OTAConfig       `toml:"ota" yaml:"ota"`
	Wifi      WifiConfig      `toml:"wifi" yaml:"wifi"`
	Log       LogConfig       `toml:"log" yaml:"log"`
	Metrics   MetricsConfig   `toml:"metrics" yaml:"metrics"`
}

// DiscoveryConfig selects a channel scan policy and overrides its fields
type DiscoveryConfig struct {
	Policy       string `toml:"policy" yaml:"policy"`
	Channels     []int  `toml:"channels" yaml:"channels"`
	Attempts     int    `toml:"attempts" yaml:"attempts"`
	AttemptWait  string `toml:"attempt_wait" yaml:"attempt_wait"`
	FinalWait    string `toml:"final_wait" yaml:"final_wait"`
	FrameRetries int    `toml:"frame_retries" yaml:"frame_retries"`
}

// StoreConfig picks where channel and host survive between wakes
type StoreConfig struct {
	Type string `toml:"type" yaml:"type"`
	Path string `toml:"path" yaml:"path"`
}

// OTAConfig names the images a firmware update replaces
type OTAConfig struct {
	FirmwarePath   string `toml:"firmware_path" yaml:"firmware_path"`
	FilesystemPath string `toml:"filesystem_path" yaml:"filesystem_path"`
	Timeout        string `toml:"timeout" yaml:"timeout"`
}

// WifiConfig enables NetworkManager for firmware downloads
type WifiConfig struct {
	Enabled   bool   `toml:"enabled" yaml:"enabled"`
	Interface string `toml:"interface" yaml:"interface"`
}

type LogConfig struct {
	Level string `toml:"level" yaml:"level"`
}

type MetricsConfig struct {
	Addr string `toml:"addr" yaml:"addr"`
}

// DefaultAppConfig returns the configuration used when no file is given
func DefaultAppConfig() *Config {
	return &Config{
		Store:     StoreConfig{Type: StoreFile, Path: defaultStatePath("state.cbor")},
		BootState: defaultRuntimePath("bootstate.cbor"),
		Discovery: DiscoveryConfig{Policy: PolicyDefault},
		Log:       LogConfig{Level: "info"},
	}
}

// LoadConfig reads path on top of the defaults. The format follows the
// extension; an empty path returns the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultAppConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("config %s: unsupported format (use .toml or .yaml)", path)
	}
	return cfg, nil
}

// ApplyEnv overlays EMBER_KEY and EMBER_SECRET
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("EMBER_KEY"); v != "" {
		c.Key = v
	}
	if v := getenv("EMBER_SECRET"); v != "" {
		c.Secret = v
	}
}

// ParseStoreSpec parses the --store flag
func ParseStoreSpec(spec string) (StoreConfig, error) {
	kind, path, _ := strings.Cut(spec, ":")
	switch kind {
	case StoreMemory:
		return StoreConfig{Type: StoreMemory}, nil
	case StoreFile, StoreSQLite:
		if path == "" {
			return StoreConfig{}, fmt.Errorf("store %q needs a path (%s:PATH)", kind, kind)
		}
		return StoreConfig{Type: kind, Path: path}, nil
	default:
		return StoreConfig{}, fmt.Errorf("unknown store %q (memory, file:PATH, sqlite:PATH)", spec)
	}
}

// NodeConfig converts the file configuration into a validated node.Config
func (c *Config) NodeConfig() (node.Config, error) {
	cfg := node.DefaultConfig()

	var err error
	if c.Key != "" {
		if cfg.EncryptionKey, err = decodeHex("key", c.Key); err != nil {
			return node.Config{}, err
		}
	}
	if c.Secret != "" {
		if cfg.EncryptionSecret, err = decodeHex("secret", c.Secret); err != nil {
			return node.Config{}, err
		}
	}
	cfg.FirmwareVersion = c.FirmwareVersion
	if c.PANID != 0 {
		cfg.PANID = c.PANID
	}
	if c.TxPower != nil {
		cfg.TxPower = *c.TxPower
	}

	// The policy goes first so explicit fields override it
	switch c.Discovery.Policy {
	case "", PolicyDefault:
	case PolicyLegacy:
		cfg.Discovery = node.LegacyDiscoveryPolicy()
	default:
		return node.Config{}, fmt.Errorf("unknown discovery policy %q (default, legacy)", c.Discovery.Policy)
	}

	durations := []struct {
		name string
		val  string
		dst  *time.Duration
	}{
		{"retry_backoff", c.RetryBackoff, &cfg.RetryBackoff},
		{"collect_idle", c.CollectIdle, &cfg.CollectIdle},
		{"wifi_timeout", c.WifiTimeout, &cfg.WifiTimeout},
		{"reboot_grace", c.RebootGrace, &cfg.RebootGrace},
		{"discovery.attempt_wait", c.Discovery.AttemptWait, &cfg.Discovery.AttemptWait},
		{"discovery.final_wait", c.Discovery.FinalWait, &cfg.Discovery.FinalWait},
	}

	for _, d := range durations {
		if err := parseDuration(d.name, d.val, d.dst); err != nil {
			return node.Config{}, err
		}
	}

	if len(c.Discovery.Channels) > 0 {
		channels := make([]uint8, 0, len(c.Discovery.Channels))
		for _, ch := range c.Discovery.Channels {
			if ch < 0 || ch > 255 || !radio.ValidChannel(uint8(ch)) {
				return node.Config{}, fmt.Errorf("discovery: invalid channel %d", ch)
			}
			channels = append(channels, uint8(ch))
		}
		cfg.Discovery.Channels = channels
	}
	if c.Discovery.Attempts != 0 {
		cfg.Discovery.Attempts = c.Discovery.Attempts
	}
	if c.Discovery.FrameRetries != 0 {
		if c.Discovery.FrameRetries < 0 || c.Discovery.FrameRetries > 255 {
			return node.Config{}, fmt.Errorf("discovery: invalid frame retries %d", c.Discovery.FrameRetries)
		}
		cfg.Discovery.FrameRetries = uint8(c.Discovery.FrameRetries)
	}

	if err := cfg.Validate(true); err != nil {
		return node.Config{}, err
	}
	return cfg, nil
}

// OTATimeout returns the configured download timeout, zero for the default
func (c *Config) OTATimeout() (time.Duration, error) {
	var d time.Duration
	err := parseDuration("ota.timeout", c.OTA.Timeout, &d)
	return d, err
}

func parseDuration(name, val string, dst *time.Duration) error {
	if val == "" {
		return nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if d < 0 {
		return fmt.Errorf("%s: must not be negative", name)
	}
	*dst = d
	return nil
}

func decodeHex(name, s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%s: not valid hex: %w", name, err)
	}
	return b, nil
}

// defaultStatePath places persistent files under the user state directory
func defaultStatePath(name string) string {
	dir := os.Getenv("XDG_STATE_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "ember", name)
		}
		dir = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(dir, "ember", name)
}

// defaultRuntimePath places files that must not survive a power cycle in
// the runtime directory, which is cleared on boot
func defaultRuntimePath(name string) string {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "ember", name)
}
