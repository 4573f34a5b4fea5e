// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/ember/pkg/node"
)

const (
	testKeyHex    = "000102030405060708090a0b0c0d0e0f"
	testSecretHex = "0001020304050607"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// ============================================================
// Loading
// ============================================================

func TestLoadConfig_TOML(t *testing.T) {
	path := writeConfig(t, "node.toml", `
key = "`+testKeyHex+`"
secret = "`+testSecretHex+`"
firmware_version = 7
pan_id = 0x1234
tx_power = -4
collect_idle = "250ms"

[discovery]
policy = "legacy"
channels = [15, 20, 25]
final_wait = "200ms"

[store]
type = "sqlite"
path = "/var/lib/ember/state.db"

[ota]
firmware_path = "/opt/ember/ember"
timeout = "2m"

[wifi]
enabled = true
interface = "wlan0"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Store.Type != StoreSQLite || cfg.Store.Path != "/var/lib/ember/state.db" {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if !cfg.Wifi.Enabled || cfg.Wifi.Interface != "wlan0" {
		t.Errorf("Wifi = %+v", cfg.Wifi)
	}
	// Untouched sections keep their defaults
	if cfg.Log.Level != "info" || cfg.BootState == "" {
		t.Errorf("defaults lost: log=%q boot=%q", cfg.Log.Level, cfg.BootState)
	}

	nc, err := cfg.NodeConfig()
	if err != nil {
		t.Fatalf("NodeConfig() error = %v", err)
	}
	if nc.FirmwareVersion != 7 || nc.PANID != 0x1234 || nc.TxPower != -4 {
		t.Errorf("node config = version %d pan %04X power %d", nc.FirmwareVersion, nc.PANID, nc.TxPower)
	}
	if nc.CollectIdle != 250*time.Millisecond {
		t.Errorf("CollectIdle = %v", nc.CollectIdle)
	}
	legacy := node.LegacyDiscoveryPolicy()
	if nc.Discovery.Attempts != legacy.Attempts || nc.Discovery.AttemptWait != legacy.AttemptWait {
		t.Errorf("legacy policy not applied: %+v", nc.Discovery)
	}
	if !bytes.Equal(nc.Discovery.Channels, []uint8{15, 20, 25}) || nc.Discovery.FinalWait != 200*time.Millisecond {
		t.Errorf("policy overrides not applied: %+v", nc.Discovery)
	}
	if timeout, err := cfg.OTATimeout(); err != nil || timeout != 2*time.Minute {
		t.Errorf("OTATimeout() = %v, %v", timeout, err)
	}
}

func TestLoadConfig_YAML(t *testing.T) {
	path := writeConfig(t, "node.yaml", `
key: "`+testKeyHex+`"
secret: "`+testSecretHex+`"
retry_backoff: 500ms
discovery:
  attempts: 2
  attempt_wait: 40ms
  frame_retries: 3
store:
  type: memory
log:
  level: debug
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Store.Type != StoreMemory || cfg.Log.Level != "debug" {
		t.Errorf("cfg = %+v", cfg)
	}

	nc, err := cfg.NodeConfig()
	if err != nil {
		t.Fatalf("NodeConfig() error = %v", err)
	}
	if nc.RetryBackoff != 500*time.Millisecond {
		t.Errorf("RetryBackoff = %v", nc.RetryBackoff)
	}
	def := node.DefaultDiscoveryPolicy()
	if nc.Discovery.Attempts != 2 || nc.Discovery.AttemptWait != 40*time.Millisecond || nc.Discovery.FrameRetries != 3 {
		t.Errorf("Discovery = %+v", nc.Discovery)
	}
	if !bytes.Equal(nc.Discovery.Channels, def.Channels) {
		t.Errorf("Channels = %v, want default order", nc.Discovery.Channels)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
	}{
		{"unknown extension", "node.ini", "key=1"},
		{"bad toml", "node.toml", "key = "},
		{"bad yaml", "node.yaml", "store: [unclosed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadConfig(writeConfig(t, tt.file, tt.body)); err == nil {
				t.Error("LoadConfig() succeeded")
			}
		})
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("LoadConfig() of missing file succeeded")
	}
}

func TestLoadConfig_EmptyPathIsDefault(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store.Type != StoreFile || cfg.Discovery.Policy != PolicyDefault {
		t.Errorf("cfg = %+v", cfg)
	}
}

// ============================================================
// Node Configuration
// ============================================================

func TestNodeConfig_Invalid(t *testing.T) {
	valid := func() *Config {
		c := DefaultAppConfig()
		c.Key, c.Secret = testKeyHex, testSecretHex
		return c
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"no key", func(c *Config) { c.Key = "" }, "key"},
		{"short key", func(c *Config) { c.Key = "0011" }, "key"},
		{"key not hex", func(c *Config) { c.Key = "zz" }, "hex"},
		{"short secret", func(c *Config) { c.Secret = "00" }, "secret"},
		{"bad duration", func(c *Config) { c.CollectIdle = "soon" }, "collect_idle"},
		{"negative duration", func(c *Config) { c.RetryBackoff = "-1s" }, "retry_backoff"},
		{"zero collect idle", func(c *Config) { c.CollectIdle = "0s" }, "collect idle"},
		{"unknown policy", func(c *Config) { c.Discovery.Policy = "random" }, "policy"},
		{"channel out of range", func(c *Config) { c.Discovery.Channels = []int{10} }, "channel 10"},
		{"channel overflow", func(c *Config) { c.Discovery.Channels = []int{256 + 11} }, "channel 267"},
		{"negative attempts", func(c *Config) { c.Discovery.Attempts = -1 }, "attempts"},
		{"frame retries overflow", func(c *Config) { c.Discovery.FrameRetries = 300 }, "frame retries"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			_, err := c.NodeConfig()
			if err == nil {
				t.Fatal("NodeConfig() succeeded")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("NodeConfig() error = %v, want mention of %q", err, tt.want)
			}
		})
	}

	if _, err := valid().NodeConfig(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{"EMBER_KEY": testKeyHex, "EMBER_SECRET": testSecretHex}
	cfg := DefaultAppConfig()
	cfg.Key = "ffff"
	cfg.ApplyEnv(func(k string) string { return env[k] })

	if cfg.Key != testKeyHex || cfg.Secret != testSecretHex {
		t.Errorf("key=%q secret=%q", cfg.Key, cfg.Secret)
	}

	// Unset variables leave the file values alone
	cfg.ApplyEnv(func(string) string { return "" })
	if cfg.Key != testKeyHex {
		t.Errorf("empty env overwrote key: %q", cfg.Key)
	}
}

func TestParseStoreSpec(t *testing.T) {
	tests := []struct {
		spec    string
		want    StoreConfig
		wantErr bool
	}{
		{"memory", StoreConfig{Type: StoreMemory}, false},
		{"file:/tmp/state.cbor", StoreConfig{Type: StoreFile, Path: "/tmp/state.cbor"}, false},
		{"sqlite:state.db", StoreConfig{Type: StoreSQLite, Path: "state.db"}, false},
		{"file", StoreConfig{}, true},
		{"sqlite:", StoreConfig{}, true},
		{"nvs:/dev/mtd0", StoreConfig{}, true},
		{"", StoreConfig{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := ParseStoreSpec(tt.spec)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseStoreSpec() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseStoreSpec() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

// ============================================================
// Stores and Boot State
// ============================================================

func TestOpenStore(t *testing.T) {
	dir := t.TempDir()
	for _, sc := range []StoreConfig{
		{Type: StoreMemory},
		{Type: StoreFile, Path: filepath.Join(dir, "state.cbor")},
		{Type: StoreSQLite, Path: filepath.Join(dir, "db", "state.db")},
	} {
		t.Run(sc.Type, func(t *testing.T) {
			s, closeStore, err := openStore(sc, zerolog.Nop())
			if err != nil {
				t.Fatalf("openStore() error = %v", err)
			}
			defer closeStore()

			if err := s.WriteBlob(node.KeyChannel, []byte{17}); err != nil {
				t.Fatal(err)
			}
			if v, ok := s.ReadBlob(node.KeyChannel); !ok || !bytes.Equal(v, []byte{17}) {
				t.Errorf("ReadBlob() = %v, %v", v, ok)
			}
		})
	}

	if _, _, err := openStore(StoreConfig{Type: "nvs"}, zerolog.Nop()); err == nil {
		t.Error("unknown store type accepted")
	}
}

func TestBootStateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "bootstate.cbor")

	// Missing file is a cold boot
	if b := loadBootState(path, zerolog.Nop()); b.Valid() {
		t.Errorf("missing file loaded as %+v", *b)
	}

	want := node.BootState{Magic: node.BootStateMagic, Sequence: 201}
	if err := saveBootState(path, want); err != nil {
		t.Fatalf("saveBootState() error = %v", err)
	}
	if got := loadBootState(path, zerolog.Nop()); *got != want {
		t.Errorf("loadBootState() = %+v, want %+v", *got, want)
	}

	// Garbage reads as cold boot too
	if err := os.WriteFile(path, []byte{0xFF, 0x00}, 0o600); err != nil {
		t.Fatal(err)
	}
	if b := loadBootState(path, zerolog.Nop()); b.Valid() {
		t.Errorf("corrupt file loaded as %+v", *b)
	}

	// No path disables persistence
	if err := saveBootState("", want); err != nil {
		t.Errorf("saveBootState(\"\") error = %v", err)
	}
	if b := loadBootState("", zerolog.Nop()); b.Valid() {
		t.Error("empty path loaded a valid state")
	}
}
