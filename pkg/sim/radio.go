// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package sim provides an in-process radio and host for exercising a node
// without hardware.
package sim

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Thermoquad/ember/pkg/radio"
)

// ErrNotInitialized is returned by radio operations before Initialize
var ErrNotInitialized = errors.New("radio not initialized")

// Op names a recorded radio operation
type Op string

const (
	OpInit        Op = "init"
	OpSetChannel  Op = "set_channel"
	OpTransmit    Op = "transmit"
	OpBroadcast   Op = "broadcast"
	OpReceive     Op = "receive"
	OpDataRequest Op = "data_request"
	OpTeardown    Op = "teardown"
)

// Event is one recorded radio operation
type Event struct {
	Op      Op
	Channel uint8
	Dst     uint64
	Acked   bool
	Enabled bool
}

func (e Event) String() string {
	switch e.Op {
	case OpTransmit:
		return fmt.Sprintf("%s ch=%d dst=0x%016X acked=%t", e.Op, e.Channel, e.Dst, e.Acked)
	case OpReceive:
		return fmt.Sprintf("%s enabled=%t", e.Op, e.Enabled)
	case OpSetChannel, OpBroadcast, OpDataRequest:
		return fmt.Sprintf("%s ch=%d", e.Op, e.Channel)
	default:
		return string(e.Op)
	}
}

// Radio is a simulated transceiver. Every frame it sends goes to the
// attached host; frames from the host are delivered on their own goroutine,
// like a driver callback.
type Radio struct {
	mu          sync.Mutex
	mac         uint64
	host        *Host
	initialized bool
	channel     uint8
	sequence    uint8
	retries     uint8
	handler     radio.Handler
	inits       []radio.Config
	events      []Event
}

// NewRadio creates a radio with the given device address
func NewRadio(mac uint64) *Radio {
	return &Radio{mac: mac}
}

// Attach connects the radio to a host. A nil host leaves the air empty.
func (r *Radio) Attach(h *Host) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.host = h
}

func (r *Radio) Initialize(cfg radio.Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.initialized = true
	r.sequence = cfg.SequenceNumber
	r.inits = append(r.inits, cfg)
	r.events = append(r.events, Event{Op: OpInit})
	return nil
}

func (r *Radio) SetChannel(channel uint8) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return ErrNotInitialized
	}
	if !radio.ValidChannel(channel) {
		return fmt.Errorf("invalid channel %d", channel)
	}
	r.channel = channel
	r.events = append(r.events, Event{Op: OpSetChannel, Channel: channel})
	return nil
}

func (r *Radio) Transmit(dst uint64, data []byte) error {
	if err := radio.CheckFrameSize(data); err != nil {
		return err
	}
	r.mu.Lock()
	if !r.initialized {
		r.mu.Unlock()
		return ErrNotInitialized
	}
	r.sequence++
	host, channel := r.host, r.channel
	r.mu.Unlock()

	acked := host != nil && host.handleUnicast(channel, dst, r.mac, data)

	r.mu.Lock()
	r.events = append(r.events, Event{Op: OpTransmit, Channel: channel, Dst: dst, Acked: acked})
	r.mu.Unlock()

	if !acked {
		return radio.ErrNoAck
	}
	return nil
}

func (r *Radio) Broadcast(data []byte) error {
	if err := radio.CheckFrameSize(data); err != nil {
		return err
	}
	r.mu.Lock()
	if !r.initialized {
		r.mu.Unlock()
		return ErrNotInitialized
	}
	r.sequence++
	host, channel := r.host, r.channel
	r.events = append(r.events, Event{Op: OpBroadcast, Channel: channel})
	r.mu.Unlock()

	if host != nil {
		host.handleBroadcast(r, channel, r.mac, data)
	}
	return nil
}

func (r *Radio) Receive(h radio.Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return ErrNotInitialized
	}
	r.handler = h
	r.events = append(r.events, Event{Op: OpReceive, Enabled: h != nil})
	return nil
}

func (r *Radio) DataRequest(dst uint64) (radio.DataRequestResult, error) {
	r.mu.Lock()
	if !r.initialized {
		r.mu.Unlock()
		return radio.DataRequestFailure, ErrNotInitialized
	}
	r.sequence++
	host, channel := r.host, r.channel
	r.events = append(r.events, Event{Op: OpDataRequest, Channel: channel, Dst: dst})
	r.mu.Unlock()

	if host == nil {
		return radio.DataRequestFailure, nil
	}
	return host.handleDataRequest(r, channel, dst), nil
}

func (r *Radio) DeviceMACAddress() uint64 {
	return r.mac
}

func (r *Radio) NextSequenceNumber() uint8 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sequence
}

func (r *Radio) SetFrameRetries(n uint8) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries = n
	return nil
}

func (r *Radio) Teardown() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.initialized = false
	r.handler = nil
	r.events = append(r.events, Event{Op: OpTeardown})
	return nil
}

// deliver hands a frame to the registered handler if the radio is up and
// tuned to the frame's channel
func (r *Radio) deliver(f radio.Frame) {
	r.mu.Lock()
	h := r.handler
	listening := r.initialized && r.channel == f.Channel
	r.mu.Unlock()

	if h != nil && listening {
		h(f)
	}
}

// Inits returns every configuration passed to Initialize
func (r *Radio) Inits() []radio.Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]radio.Config(nil), r.inits...)
}

// Events returns the recorded operations in order
func (r *Radio) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// ResetEvents clears the recorded operations
func (r *Radio) ResetEvents() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
	r.inits = nil
}

// Count returns how many events of op were recorded
func (r *Radio) Count(op Op) int {
	n := 0
	for _, e := range r.Events() {
		if e.Op == op {
			n++
		}
	}
	return n
}

// Initialized reports whether the radio is powered
func (r *Radio) Initialized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initialized
}

// Channel returns the selected channel
func (r *Radio) Channel() uint8 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.channel
}

// FrameRetries returns the last retry count set
func (r *Radio) FrameRetries() uint8 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.retries
}
