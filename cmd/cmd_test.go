// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/ember/pkg/radio"
	"github.com/Thermoquad/ember/pkg/rcp"
)

// fastConfig keeps simulated rounds short
const fastConfig = `
key = "` + testKeyHex + `"
secret = "` + testSecretHex + `"
collect_idle = "150ms"
retry_backoff = "10ms"

[discovery]
attempts = 2
attempt_wait = "20ms"
final_wait = "50ms"
`

// runEmber executes the root command and returns its standard output
func runEmber(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

// ============================================================
// Simulation
// ============================================================

func TestSimulate(t *testing.T) {
	config := writeConfig(t, "fast.toml", fastConfig)
	common := []string{"simulate", "--config", config, "--log-level", "error",
		"--pending-spacing", "20ms", "--pending-timestamp", "0", "--pending-payload", "",
		"--offline=false", "--fail-data-requests=false", "--drop-acks", "0", "--ignore-discoveries", "0",
		"--host-channel", "20", "--move-to", "0", "--interval", "0s"}

	tests := []struct {
		name     string
		args     []string
		wantErr  bool
		contains []string
	}{
		{
			name: "rounds with pending data",
			args: []string{"--rounds", "2", "--over-link=false", "--pending-timestamp", "42", "--pending-payload", "hi"},
			contains: []string{
				"Round 1/2: Delivered",
				"Round 2/2: Delivered",
				"Pending timestamp: 42",
				"Pending timestamp: 43",
				`Pending payload:   "hi" (2 bytes)`,
				"2 rounds, 2 delivered, 0 failed",
				"Host: 2 messages",
			},
		},
		{
			name:     "dropped acks are retried",
			args:     []string{"--rounds", "1", "--over-link=false", "--drop-acks", "1"},
			contains: []string{"Round 1/1: Delivered", "Host: 1 messages"},
		},
		{
			name:     "host moves after the first round",
			args:     []string{"--rounds", "2", "--over-link=false", "--host-channel", "22", "--move-to", "13"},
			contains: []string{"Host moved to channel 13", "Round 2/2: Delivered", "2 rounds, 2 delivered"},
		},
		{
			name:     "over the link",
			args:     []string{"--rounds", "1", "--over-link", "--pending-timestamp", "5"},
			contains: []string{"Round 1/1: Delivered", "Pending timestamp: 5", "Total Packets:"},
		},
		{
			name:     "offline host",
			args:     []string{"--rounds", "1", "--over-link=false", "--offline"},
			wantErr:  true,
			contains: []string{"Round 1/1: FAILED", "1 rounds, 0 delivered, 1 failed"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runEmber(t, append(append([]string{}, common...), tt.args...)...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("simulate error = %v, wantErr %v\n%s", err, tt.wantErr, out)
			}
			for _, want := range tt.contains {
				if !strings.Contains(out, want) {
					t.Errorf("output missing %q:\n%s", want, out)
				}
			}
		})
	}
}

func TestSimulate_RejectsBadChannel(t *testing.T) {
	config := writeConfig(t, "fast.toml", fastConfig)
	if _, err := runEmber(t, "simulate", "--config", config, "--host-channel", "27"); err == nil {
		t.Error("simulate accepted channel 27")
	}
}

func TestSimulationConfig(t *testing.T) {
	base := DefaultAppConfig()
	base.Store = StoreConfig{Type: StoreFile, Path: "/var/lib/ember/state.cbor"}

	cfg, err := simulationConfig(*base, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Key) != 32 || len(cfg.Secret) != 16 {
		t.Errorf("generated key=%q secret=%q", cfg.Key, cfg.Secret)
	}
	if cfg.Store.Type != StoreMemory || cfg.BootState != "" || cfg.OTA.FirmwarePath == "" {
		t.Errorf("simulation config touches real state: %+v", cfg)
	}
	if _, err := cfg.NodeConfig(); err != nil {
		t.Errorf("NodeConfig() error = %v", err)
	}
	// The caller's config is untouched
	if base.Key != "" || base.Store.Type != StoreFile {
		t.Errorf("base modified: %+v", base)
	}

	kept, _ := simulationConfig(*base, true)
	if kept.Store != base.Store {
		t.Errorf("explicit store replaced: %+v", kept.Store)
	}
}

// ============================================================
// Payloads
// ============================================================

func TestParsePayload(t *testing.T) {
	tests := []struct {
		name    string
		arg     string
		hex     bool
		want    []byte
		wantErr bool
	}{
		{"text", "21.5C", false, []byte("21.5C"), false},
		{"empty", "", false, []byte{}, false},
		{"hex", "01020a", true, []byte{0x01, 0x02, 0x0A}, false},
		{"hex with spaces", "01 02 0A", true, []byte{0x01, 0x02, 0x0A}, false},
		{"bad hex", "0g", true, nil, true},
		{"odd hex", "012", true, nil, true},
		{"too long", strings.Repeat("x", 101), false, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parsePayload(tt.arg, tt.hex)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parsePayload() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !bytes.Equal(got, tt.want) {
				t.Errorf("parsePayload() = % X, want % X", got, tt.want)
			}
		})
	}
}

func TestFormatPayload(t *testing.T) {
	if got := formatPayload([]byte("ok")); got != `"ok" (2 bytes)` {
		t.Errorf("formatPayload(text) = %s", got)
	}
	if got := formatPayload([]byte{0x00, 0xFF}); got != "00 FF (2 bytes)" {
		t.Errorf("formatPayload(binary) = %s", got)
	}
}

// ============================================================
// Link Tools
// ============================================================

func TestLogPackets(t *testing.T) {
	var stream []byte
	resp, err := rcp.EncodePacketFromValues(3, rcp.CmdPing|rcp.ResponseFlag, map[int]interface{}{0: 0, 1: 1500})
	if err != nil {
		t.Fatal(err)
	}
	ind, err := rcp.EncodePacketFromValues(rcp.IndicationTSN, rcp.MsgFrameIndication,
		map[int]interface{}{0: uint64(0xAABB), 1: []byte{1, 2}, 2: -40, 3: 15})
	if err != nil {
		t.Fatal(err)
	}
	// START, length, tsn: a different tsn no longer matches the CRC
	corrupt := append([]byte{}, resp...)
	corrupt[2] ^= 0x01

	stream = append(stream, resp...)
	stream = append(stream, corrupt...)
	stream = append(stream, ind...)

	var out bytes.Buffer
	stats := rcp.NewStatistics()
	if err := logPackets(bytes.NewReader(stream), &out, stats); err != nil {
		t.Fatalf("logPackets() error = %v", err)
	}

	text := out.String()
	for _, want := range []string{"PING_RESPONSE", "FRAME_INDICATION", "[ERROR]"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
	if stats.TotalPackets != 3 || stats.ValidPackets != 2 || stats.Indications != 1 {
		t.Errorf("stats total=%d valid=%d indications=%d", stats.TotalPackets, stats.ValidPackets, stats.Indications)
	}
}

type fakePinger struct {
	results []error
}

func (f *fakePinger) Ping() (time.Duration, time.Duration, error) {
	err := f.results[0]
	f.results = f.results[1:]
	if err != nil {
		return 0, 0, err
	}
	return 90 * time.Second, 3 * time.Millisecond, nil
}

func TestPingLoop(t *testing.T) {
	var out bytes.Buffer
	p := &fakePinger{results: []error{nil, rcp.ErrTimeout, nil, radio.ErrNoAck}}

	failed := pingLoop(&out, p, 4, 0)
	if failed != 2 {
		t.Errorf("pingLoop() = %d failures, want 2", failed)
	}

	text := out.String()
	for _, want := range []string{
		"Ping 1/4: PONG from co-processor, uptime=1 minute and 30 seconds, rtt=3ms",
		"Ping 2/4: FAILED",
		"4 pings sent, 2 responses received, 50% packet loss",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}

	if failed := pingLoop(&bytes.Buffer{}, &fakePinger{}, 0, 0); failed != 0 {
		t.Errorf("zero pings reported %d failures", failed)
	}
}

func TestLogSink(t *testing.T) {
	sink := &logSink{}
	n, err := sink.Write([]byte("before start\n"))
	if err != nil || n != len("before start\n") {
		t.Fatalf("Write() = %d, %v", n, err)
	}
	if len(sink.early) != 1 || sink.early[0] != "before start" {
		t.Errorf("early = %q", sink.early)
	}
}
