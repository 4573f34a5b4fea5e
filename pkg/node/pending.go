// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package node

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/ember/pkg/observability"
	"github.com/Thermoquad/ember/pkg/radio"
	"github.com/Thermoquad/ember/pkg/wire"
)

var (
	errFirmwareIncomplete = errors.New("firmware update incomplete")
	errFirmwareMismatch   = errors.New("firmware update identifiers differ")
)

// FirmwareDescriptor is a complete, consistent firmware update
type FirmwareDescriptor struct {
	Identifier uint32
	SSID       string
	Password   string
	URL        string
	MD5        string
}

// firmwareBuilder assembles a descriptor from the three frames the host
// sends. Each part remembers the identifier it arrived with.
type firmwareBuilder struct {
	started bool

	ssid, password string
	credentialsID  uint32
	hasCredentials bool

	md5        string
	checksumID uint32
	hasMD5     bool

	url    string
	urlID  uint32
	hasURL bool
}

func (b *firmwareBuilder) mergeCredentials(f wire.PendingFirmwareWifiCredentialsResponse) {
	b.started = true
	b.ssid, b.password = f.SSID, f.Password
	b.credentialsID = f.Identifier
	b.hasCredentials = true
}

func (b *firmwareBuilder) mergeChecksum(f wire.PendingFirmwareChecksumResponse) {
	b.started = true
	b.md5 = f.MD5
	b.checksumID = f.Identifier
	b.hasMD5 = true
}

func (b *firmwareBuilder) mergeURL(f wire.PendingFirmwareURLResponse) {
	b.started = true
	b.url = f.URL
	b.urlID = f.Identifier
	b.hasURL = true
}

// finalize returns the descriptor when all parts share one identifier and
// ssid, password and url are set
func (b *firmwareBuilder) finalize() (FirmwareDescriptor, error) {
	if !b.hasCredentials || !b.hasMD5 || !b.hasURL {
		return FirmwareDescriptor{}, fmt.Errorf("%w: credentials=%t checksum=%t url=%t",
			errFirmwareIncomplete, b.hasCredentials, b.hasMD5, b.hasURL)
	}
	if b.credentialsID != b.checksumID || b.credentialsID != b.urlID {
		return FirmwareDescriptor{}, fmt.Errorf("%w: credentials=%d checksum=%d url=%d",
			errFirmwareMismatch, b.credentialsID, b.checksumID, b.urlID)
	}
	if b.ssid == "" || b.password == "" || b.url == "" {
		return FirmwareDescriptor{}, fmt.Errorf("%w: empty ssid, password or url", errFirmwareIncomplete)
	}
	return FirmwareDescriptor{
		Identifier: b.credentialsID,
		SSID:       b.ssid,
		Password:   b.password,
		URL:        b.url,
		MD5:        b.md5,
	}, nil
}

// pendingSet collects one data session. merge runs on the driver goroutine.
type pendingSet struct {
	mu         sync.Mutex
	frames     int
	timestamp  *uint64
	payload    []byte
	hasPayload bool
	firmware   firmwareBuilder
}

// merge records a frame, overwriting an earlier frame of the same kind.
// It returns false for kinds that do not belong in a data session.
func (p *pendingSet) merge(f wire.Frame) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch v := f.(type) {
	case wire.PendingTimestampResponse:
		ts := v.Timestamp
		p.timestamp = &ts
	case wire.PendingPayloadResponse:
		p.payload = v.Payload
		p.hasPayload = true
	case wire.PendingFirmwareWifiCredentialsResponse:
		p.firmware.mergeCredentials(v)
	case wire.PendingFirmwareChecksumResponse:
		p.firmware.mergeChecksum(v)
	case wire.PendingFirmwareURLResponse:
		p.firmware.mergeURL(v)
	default:
		return false
	}
	p.frames++
	return true
}

// requestData polls the host and collects whatever it has queued
func (n *Node) requestData(log zerolog.Logger) bool {
	result, err := n.radio.DataRequest(n.host.Address)
	if err != nil {
		log.Warn().Err(err).Msg("data request")
		result = radio.DataRequestFailure
	}

	switch result {
	case radio.DataRequestNoDataAvailable:
		log.Info().Msg("no data available")
		return true
	case radio.DataRequestDataAvailable:
		log.Info().Msg("data available, collecting")
	default:
		log.Warn().Stringer("result", result).Msg("data request failed")
		return false
	}

	set := &pendingSet{}
	arrived := newSignal[struct{}]()
	handler := func(f radio.Frame) {
		frame, ok := n.open(log, f)
		if !ok {
			return
		}
		if !set.merge(frame) {
			log.Warn().Stringer("kind", frame.Kind()).Msg("ignoring frame during data collection")
			return
		}
		observability.RecordPendingFrame(frame.Kind().String())
		log.Debug().Stringer("kind", frame.Kind()).Msg("pending frame")
		arrived.notify(struct{}{})
	}

	if err := n.radio.Receive(handler); err != nil {
		log.Error().Err(err).Msg("enable receive")
		return false
	}
	for {
		if _, ok := arrived.wait(n.cfg.CollectIdle); !ok {
			break
		}
	}
	if err := n.radio.Receive(nil); err != nil {
		log.Warn().Err(err).Msg("disable receive")
	}

	set.mu.Lock()
	frames := set.frames
	timestamp, payload, hasPayload := set.timestamp, set.payload, set.hasPayload
	firmware := set.firmware
	set.mu.Unlock()

	log.Info().Int("frames", frames).Msg("data collection complete")
	n.queuePending(timestamp, payload, hasPayload)

	if !firmware.started {
		return true
	}
	desc, err := firmware.finalize()
	if err != nil {
		log.Warn().Err(err).Msg("skipping firmware update")
		return true
	}
	return n.updateFirmware(log, desc)
}
