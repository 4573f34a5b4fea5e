// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package node

import (
	"fmt"
	"time"

	"github.com/Thermoquad/ember/pkg/gcm"
	"github.com/Thermoquad/ember/pkg/radio"
)

// DefaultPANID is the PAN identifier shared by host and node unless configured
const DefaultPANID = 0x9191

// DefaultTxPower is the transmit power in dBm
const DefaultTxPower = 20

// DiscoveryPolicy tunes the channel scan. The right values depend on the
// radio environment, not on the protocol.
type DiscoveryPolicy struct {
	// Channels are scanned in order
	Channels []uint8
	// Attempts is the number of broadcast rounds per channel
	Attempts int
	// AttemptWait is how long each round waits for a response
	AttemptWait time.Duration
	// FinalWait is a last wait after the scan in case a response is in flight
	FinalWait time.Duration
	// FrameRetries is handed to the driver before scanning
	FrameRetries uint8
}

// DescendingChannels returns channels 26 down to 11
func DescendingChannels() []uint8 {
	channels := make([]uint8, 0, radio.MaxChannel-radio.MinChannel+1)
	for ch := radio.MaxChannel; ch >= radio.MinChannel; ch-- {
		channels = append(channels, uint8(ch))
	}
	return channels
}

// AscendingChannels returns channels 11 up to 26
func AscendingChannels() []uint8 {
	channels := make([]uint8, 0, radio.MaxChannel-radio.MinChannel+1)
	for ch := radio.MinChannel; ch <= radio.MaxChannel; ch++ {
		channels = append(channels, uint8(ch))
	}
	return channels
}

// DefaultDiscoveryPolicy scans high to low with four short rounds per channel
func DefaultDiscoveryPolicy() DiscoveryPolicy {
	return DiscoveryPolicy{
		Channels:     DescendingChannels(),
		Attempts:     4,
		AttemptWait:  30 * time.Millisecond,
		FinalWait:    time.Second,
		FrameRetries: 10,
	}
}

// LegacyDiscoveryPolicy is a single low-to-high pass with one very short wait per channel
func LegacyDiscoveryPolicy() DiscoveryPolicy {
	return DiscoveryPolicy{
		Channels:     AscendingChannels(),
		Attempts:     1,
		AttemptWait:  10 * time.Millisecond,
		FinalWait:    time.Second,
		FrameRetries: 10,
	}
}

// Budget returns the longest time a discovery run can wait for responses
func (p DiscoveryPolicy) Budget() time.Duration {
	return time.Duration(len(p.Channels)*p.Attempts)*p.AttemptWait + p.FinalWait
}

// Validate checks the policy for values that would make discovery useless
func (p DiscoveryPolicy) Validate() error {
	if len(p.Channels) == 0 {
		return fmt.Errorf("discovery: no channels to scan")
	}
	for _, ch := range p.Channels {
		if !radio.ValidChannel(ch) {
			return fmt.Errorf("discovery: invalid channel %d (valid %d-%d)", ch, radio.MinChannel, radio.MaxChannel)
		}
	}
	if p.Attempts < 1 {
		return fmt.Errorf("discovery: attempts must be at least 1, got %d", p.Attempts)
	}
	if p.AttemptWait <= 0 {
		return fmt.Errorf("discovery: attempt wait must be positive")
	}
	if p.FinalWait < 0 {
		return fmt.Errorf("discovery: final wait must not be negative")
	}
	return nil
}

// Config is the immutable node configuration
type Config struct {
	// EncryptionKey is the 16-byte AES key shared with the host
	EncryptionKey []byte
	// EncryptionSecret is the 8-byte integrity secret shared with the host
	EncryptionSecret []byte
	// FirmwareVersion lets the host decide whether to push an update
	FirmwareVersion uint32

	PANID   uint16
	TxPower int8

	Discovery DiscoveryPolicy

	// RetryBackoff is the pause between the first and second transmit attempt
	RetryBackoff time.Duration
	// CollectIdle ends pending data collection when no frame arrives within it
	CollectIdle time.Duration
	// WifiTimeout bounds the network connect before a firmware download
	WifiTimeout time.Duration
	// RebootGrace is the delay between a decided reboot and the reboot itself
	RebootGrace time.Duration
}

// DefaultConfig returns a configuration with every knob at its default.
// Key and secret must still be supplied.
func DefaultConfig() Config {
	return Config{
		PANID:        DefaultPANID,
		TxPower:      DefaultTxPower,
		Discovery:    DefaultDiscoveryPolicy(),
		RetryBackoff: time.Second,
		CollectIdle:  time.Second,
		WifiTimeout:  10 * time.Second,
		RebootGrace:  time.Second,
	}
}

// Validate checks the configuration. Key material is only checked when
// needsKey is set, i.e. when no external cipher is supplied.
func (c Config) Validate(needsKey bool) error {
	if needsKey {
		if len(c.EncryptionKey) != gcm.KeySize {
			return fmt.Errorf("encryption key must be %d bytes, got %d", gcm.KeySize, len(c.EncryptionKey))
		}
		if len(c.EncryptionSecret) != gcm.SecretSize {
			return fmt.Errorf("encryption secret must be %d bytes, got %d", gcm.SecretSize, len(c.EncryptionSecret))
		}
	}
	if err := c.Discovery.Validate(); err != nil {
		return err
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff must not be negative")
	}
	if c.CollectIdle <= 0 {
		return fmt.Errorf("collect idle timeout must be positive")
	}
	if c.WifiTimeout <= 0 {
		return fmt.Errorf("wifi timeout must be positive")
	}
	if c.RebootGrace < 0 {
		return fmt.Errorf("reboot grace must not be negative")
	}
	return nil
}
