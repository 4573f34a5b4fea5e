// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sim

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/ember/pkg/radio"
	"github.com/Thermoquad/ember/pkg/wire"
)

// Cipher is the envelope the host shares with its nodes
type Cipher interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// Received is an application message the host accepted
type Received struct {
	Source  uint64
	Message wire.Message
}

// Host is a scripted coordinator listening on one channel
type Host struct {
	address uint64
	channel uint8
	cipher  Cipher
	log     zerolog.Logger

	mu                sync.Mutex
	responseDelay     time.Duration
	offline           bool
	dropUnicasts      int
	ignoreDiscoveries int
	failDataRequests  bool
	queue             []wire.Frame
	spacing           time.Duration
	received          []Received
	discoveryRequests int
	dataRequests      int
}

// NewHost creates a host at address listening on channel
func NewHost(address uint64, channel uint8, c Cipher, log zerolog.Logger) *Host {
	return &Host{
		address:       address,
		channel:       channel,
		cipher:        c,
		log:           log.With().Str("component", "sim-host").Logger(),
		responseDelay: time.Millisecond,
	}
}

// Address returns the host's device address
func (h *Host) Address() uint64 {
	return h.address
}

// Channel returns the channel the host listens on
func (h *Host) Channel() uint8 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.channel
}

// MoveTo retunes the host, as when a coordinator restarts on another channel
func (h *Host) MoveTo(channel uint8) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.channel = channel
}

// SetResponseDelay sets the air time before a reply reaches the node
func (h *Host) SetResponseDelay(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.responseDelay = d
}

// SetOffline makes the host ignore everything
func (h *Host) SetOffline(offline bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.offline = offline
}

// DropUnicasts leaves the next n unicasts unacknowledged
func (h *Host) DropUnicasts(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropUnicasts = n
}

// IgnoreDiscoveries leaves the next n discovery requests on the host's channel unanswered
func (h *Host) IgnoreDiscoveries(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ignoreDiscoveries = n
}

// FailDataRequests makes data requests report failure
func (h *Host) FailDataRequests(fail bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failDataRequests = fail
}

// Queue holds frames for the next data request; they are sent spacing apart
func (h *Host) Queue(spacing time.Duration, frames ...wire.Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.queue = append(h.queue, frames...)
	h.spacing = spacing
}

// QueueFirmware queues the three frames of a firmware update
func (h *Host) QueueFirmware(spacing time.Duration, id uint32, ssid, password, url, md5 string) {
	h.Queue(spacing,
		wire.PendingFirmwareWifiCredentialsResponse{Identifier: id, SSID: ssid, Password: password},
		wire.PendingFirmwareChecksumResponse{Identifier: id, MD5: md5},
		wire.PendingFirmwareURLResponse{Identifier: id, URL: url},
	)
}

// Received returns the application messages the host accepted
func (h *Host) Received() []Received {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Received(nil), h.received...)
}

// DiscoveryRequests returns how many discovery requests reached the host
func (h *Host) DiscoveryRequests() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.discoveryRequests
}

// DataRequests returns how many data requests reached the host
func (h *Host) DataRequests() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dataRequests
}

func (h *Host) handleUnicast(channel uint8, dst, src uint64, data []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.offline || channel != h.channel || dst != h.address {
		return false
	}
	if h.dropUnicasts > 0 {
		h.dropUnicasts--
		h.log.Debug().Msg("dropping unicast")
		return false
	}

	// The link layer acknowledges before the payload is looked at
	frame, ok := h.open(data)
	if !ok {
		return true
	}
	if msg, ok := frame.(wire.Message); ok {
		h.received = append(h.received, Received{Source: src, Message: msg})
		h.log.Info().Int("len", len(msg.Payload)).Uint32("firmware_version", msg.FirmwareVersion).Msg("message received")
	}
	return true
}

func (h *Host) handleBroadcast(r *Radio, channel uint8, src uint64, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.offline || channel != h.channel {
		return
	}
	frame, ok := h.open(data)
	if !ok {
		return
	}
	if _, ok := frame.(wire.DiscoveryRequest); !ok {
		return
	}

	h.discoveryRequests++
	if h.ignoreDiscoveries > 0 {
		h.ignoreDiscoveries--
		h.log.Debug().Uint8("channel", channel).Msg("ignoring discovery request")
		return
	}

	h.log.Info().Uint8("channel", channel).Msg("answering discovery request")
	h.sendLocked(r, channel, h.responseDelay, wire.DiscoveryResponse{Channel: h.channel})
}

func (h *Host) handleDataRequest(r *Radio, channel uint8, dst uint64) radio.DataRequestResult {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.offline || channel != h.channel || dst != h.address {
		return radio.DataRequestFailure
	}
	h.dataRequests++
	if h.failDataRequests {
		return radio.DataRequestFailure
	}
	if len(h.queue) == 0 {
		return radio.DataRequestNoDataAvailable
	}

	queue := h.queue
	h.queue = nil
	for i, f := range queue {
		h.sendLocked(r, channel, h.responseDelay+time.Duration(i)*h.spacing, f)
	}
	h.log.Info().Int("frames", len(queue)).Msg("sending pending data")
	return radio.DataRequestDataAvailable
}

// sendLocked seals f and delivers it to r after delay
func (h *Host) sendLocked(r *Radio, channel uint8, delay time.Duration, f wire.Frame) {
	plaintext, err := wire.Encode(f)
	if err != nil {
		h.log.Error().Err(err).Stringer("kind", f.Kind()).Msg("encode")
		return
	}
	sealed, err := h.cipher.Seal(plaintext)
	if err != nil {
		h.log.Error().Err(err).Msg("seal")
		return
	}
	frame := radio.Frame{SourceAddress: h.address, Channel: channel, Payload: sealed}
	time.AfterFunc(delay, func() { r.deliver(frame) })
}

func (h *Host) open(data []byte) (wire.Frame, bool) {
	plaintext, err := h.cipher.Open(data)
	if err != nil {
		h.log.Debug().Err(err).Msg("dropping frame")
		return nil, false
	}
	frame, err := wire.Decode(plaintext)
	if err != nil {
		h.log.Debug().Err(err).Msg("dropping malformed frame")
		return nil, false
	}
	return frame, true
}
