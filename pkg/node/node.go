// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package node implements the sleeping-node side of the 802.15.4 host/node
// protocol: host discovery, acknowledged delivery with retries, pending data
// collection and Wi-Fi firmware updates.
//
// A node process calls SendMessage once per wake cycle. Everything else the
// node needs between wakes lives either in the durable Store (the discovered
// host) or in the BootState the runtime keeps across resets (the sequence
// counter).
package node

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/ember/pkg/gcm"
	"github.com/Thermoquad/ember/pkg/observability"
	"github.com/Thermoquad/ember/pkg/radio"
	"github.com/Thermoquad/ember/pkg/wire"
)

// Options carries the collaborators a node drives
type Options struct {
	Radio radio.Transceiver
	Store Store

	// Cipher defaults to AES-GCM built from the configured key and secret
	Cipher Cipher
	// Boot defaults to a fresh, unseeded state (a cold boot)
	Boot *BootState

	// Wifi, Updater and Rebooter are only needed for firmware updates
	Wifi     WifiConnector
	Updater  Updater
	Rebooter Rebooter

	Logger zerolog.Logger
	// Rand seeds the sequence counter on cold boot; defaults to crypto/rand
	Rand io.Reader
}

// Node is the single entry point to the protocol
type Node struct {
	cfg      Config
	radio    radio.Transceiver
	cipher   Cipher
	store    Store
	boot     *BootState
	wifi     WifiConnector
	updater  Updater
	rebooter Rebooter
	log      zerolog.Logger
	rand     io.Reader

	// mu serializes protocol rounds and guards the fields below
	mu      sync.Mutex
	host    HostState
	radioUp bool

	pendingMu        sync.Mutex
	pendingTimestamp *uint64
	pendingPayload   []byte
	hasPayload       bool

	hookMu sync.Mutex
	hook   FirmwareUpdateHook
}

// New creates a node. The radio is not touched until the first SendMessage.
func New(cfg Config, opts Options) (*Node, error) {
	if opts.Radio == nil {
		return nil, errors.New("node: radio is required")
	}
	if opts.Store == nil {
		return nil, errors.New("node: store is required")
	}
	if err := cfg.Validate(opts.Cipher == nil); err != nil {
		return nil, fmt.Errorf("node: %w", err)
	}

	c := opts.Cipher
	if c == nil {
		var err error
		c, err = gcm.New(cfg.EncryptionKey, cfg.EncryptionSecret)
		if err != nil {
			return nil, fmt.Errorf("node: %w", err)
		}
	}

	boot := opts.Boot
	if boot == nil {
		boot = &BootState{}
	}
	r := opts.Rand
	if r == nil {
		r = rand.Reader
	}

	cfg.Discovery.Channels = append([]uint8(nil), cfg.Discovery.Channels...)

	return &Node{
		cfg:      cfg,
		radio:    opts.Radio,
		cipher:   c,
		store:    opts.Store,
		boot:     boot,
		wifi:     opts.Wifi,
		updater:  opts.Updater,
		rebooter: opts.Rebooter,
		log:      opts.Logger.With().Str("component", "node").Logger(),
		rand:     r,
	}, nil
}

// SendMessage delivers payload (at most wire.MaxPayloadSize bytes) to the
// host, then collects any data the host holds for this node. It returns true
// when the message was acknowledged and the data request completed.
//
// If the host pushes a firmware update the update runs before SendMessage
// returns and, depending on the update hook, the device may reboot instead.
func (n *Node) SendMessage(payload []byte) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	start := time.Now()
	log := n.log.With().Str("round", uuid.NewString()).Logger()
	log.Debug().Int("payload_len", len(payload)).Msg("round started")

	ok := n.deliver(log, payload)

	observability.RecordRound(ok, time.Since(start))
	log.Info().Bool("ok", ok).Dur("elapsed", time.Since(start)).Msg("round finished")
	return ok
}

// PendingTimestamp returns and clears the last timestamp received from the host
func (n *Node) PendingTimestamp() (uint64, bool) {
	n.pendingMu.Lock()
	defer n.pendingMu.Unlock()
	if n.pendingTimestamp == nil {
		return 0, false
	}
	ts := *n.pendingTimestamp
	n.pendingTimestamp = nil
	return ts, true
}

// PendingPayload returns and clears the last payload received from the host
func (n *Node) PendingPayload() ([]byte, bool) {
	n.pendingMu.Lock()
	defer n.pendingMu.Unlock()
	if !n.hasPayload {
		return nil, false
	}
	p := n.pendingPayload
	n.pendingPayload = nil
	n.hasPayload = false
	return p, true
}

func (n *Node) queuePending(ts *uint64, payload []byte, hasPayload bool) {
	n.pendingMu.Lock()
	defer n.pendingMu.Unlock()
	if ts != nil {
		v := *ts
		n.pendingTimestamp = &v
	}
	if hasPayload {
		n.pendingPayload = payload
		n.hasPayload = true
	}
}

// SetOnFirmwareUpdateComplete sets the hook deciding whether to reboot after
// a firmware update. Without a hook the node reboots only on success.
func (n *Node) SetOnFirmwareUpdateComplete(hook FirmwareUpdateHook) {
	n.hookMu.Lock()
	defer n.hookMu.Unlock()
	n.hook = hook
}

func (n *Node) firmwareHook() FirmwareUpdateHook {
	n.hookMu.Lock()
	defer n.hookMu.Unlock()
	return n.hook
}

// Forget erases the persisted host so the next SendMessage rediscovers
func (n *Node) Forget() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.host = HostState{}
	if err := eraseHostState(n.store); err != nil {
		n.log.Warn().Err(err).Msg("forget: erase failed")
		return fmt.Errorf("forget: %w", err)
	}
	n.log.Info().Msg("forgot host")
	return nil
}

// DeviceMACAddress returns the node's 64-bit radio address
func (n *Node) DeviceMACAddress() uint64 {
	return n.radio.DeviceMACAddress()
}

// Teardown releases the radio, keeping its sequence counter in the boot state
func (n *Node) Teardown() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.teardown(n.log)
}

// BootState returns the retained state the runtime must keep across resets
func (n *Node) BootState() BootState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return *n.boot
}

// powerUp initializes the radio, seeding the sequence counter on cold boot
func (n *Node) powerUp(log zerolog.Logger) error {
	if n.radioUp {
		return nil
	}
	if !n.boot.Valid() {
		if err := n.boot.Seed(n.rand); err != nil {
			return err
		}
		log.Info().Uint8("sequence", n.boot.Sequence).Msg("cold boot, seeded sequence counter")
	}

	cfg := radio.Config{
		PANID:          n.cfg.PANID,
		TxPower:        n.cfg.TxPower,
		SequenceNumber: n.boot.Sequence,
	}
	if err := n.radio.Initialize(cfg); err != nil {
		return fmt.Errorf("initialize radio: %w", err)
	}
	n.radioUp = true
	return nil
}

// teardown snapshots the sequence counter and powers the radio down.
// Calling it with the radio already down does nothing.
func (n *Node) teardown(log zerolog.Logger) {
	if !n.radioUp {
		return
	}
	n.boot.Sequence = n.radio.NextSequenceNumber()
	n.boot.Magic = BootStateMagic
	if err := n.radio.Teardown(); err != nil {
		log.Warn().Err(err).Msg("radio teardown failed")
	}
	n.radioUp = false
	log.Debug().Uint8("sequence", n.boot.Sequence).Msg("radio down")
}

// open decrypts and decodes a received frame. Frames that fail either step,
// or carry an unknown kind, are logged and dropped.
func (n *Node) open(log zerolog.Logger, f radio.Frame) (wire.Frame, bool) {
	plaintext, err := n.cipher.Open(f.Payload)
	if err != nil {
		log.Warn().Err(err).Str("src", hexAddr(f.SourceAddress)).Msg("dropping frame")
		return nil, false
	}
	frame, err := wire.Decode(plaintext)
	if err != nil {
		log.Warn().Err(err).Str("src", hexAddr(f.SourceAddress)).Msg("dropping malformed frame")
		return nil, false
	}
	if u, ok := frame.(wire.Unknown); ok {
		log.Warn().Stringer("kind", u.Kind()).Str("src", hexAddr(f.SourceAddress)).Msg("dropping frame of unknown kind")
		return nil, false
	}
	return frame, true
}

// seal encodes and encrypts a frame for the air
func (n *Node) seal(f wire.Frame) ([]byte, error) {
	plaintext, err := wire.Encode(f)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", f.Kind(), err)
	}
	sealed, err := n.cipher.Seal(plaintext)
	if err != nil {
		return nil, fmt.Errorf("encrypt %s: %w", f.Kind(), err)
	}
	return sealed, nil
}
