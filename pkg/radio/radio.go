// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package radio defines the contract between the node engine and an
// IEEE 802.15.4 transceiver driver.
package radio

import (
	"errors"
	"fmt"
)

// Channel range of the 2.4 GHz O-QPSK PHY
const (
	MinChannel = 11
	MaxChannel = 26
)

// BroadcastAddress is the short broadcast address used for discovery
const BroadcastAddress = 0xFFFF

// MaxFrameData is the largest frame body a transceiver accepts. A single
// 2.4 GHz PHY packet holds only 104 bytes behind 64-bit source and
// destination addresses, less than a sealed full Message, so the limit is
// the co-processor's: it owns the air interface and leaves room for the
// command envelope inside one link packet.
const MaxFrameData = 160

var (
	// ErrNoAck is returned by Transmit when the link layer did not confirm delivery
	ErrNoAck = errors.New("no acknowledgement")
	// ErrFrameTooLarge is returned for frame bodies over MaxFrameData
	ErrFrameTooLarge = errors.New("frame too large")
)

// CheckFrameSize rejects frame bodies the transceiver cannot carry
func CheckFrameSize(data []byte) error {
	if len(data) > MaxFrameData {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, len(data), MaxFrameData)
	}
	return nil
}

// Config is applied by Initialize every time the radio is powered up
type Config struct {
	PANID          uint16
	TxPower        int8
	SequenceNumber uint8
}

// Frame is a frame received from the air
type Frame struct {
	SourceAddress uint64
	Channel       uint8
	RSSI          int8
	Payload       []byte
}

// Handler is invoked on the driver's goroutine for every received frame
type Handler func(Frame)

// DataRequestResult is the outcome of a MAC data request poll
type DataRequestResult uint8

const (
	DataRequestFailure DataRequestResult = iota
	DataRequestNoDataAvailable
	DataRequestDataAvailable
)

func (r DataRequestResult) String() string {
	switch r {
	case DataRequestFailure:
		return "failure"
	case DataRequestNoDataAvailable:
		return "no_data_available"
	case DataRequestDataAvailable:
		return "data_available"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(r))
	}
}

// Transceiver is a radio driver. Implementations must be safe for use by
// one protocol round at a time while delivering frames on their own goroutine.
type Transceiver interface {
	Initialize(cfg Config) error
	SetChannel(channel uint8) error
	// Transmit returns nil once the destination acknowledged the frame.
	Transmit(dst uint64, data []byte) error
	Broadcast(data []byte) error
	// Receive registers h for incoming frames. A nil handler disables receive.
	Receive(h Handler) error
	DataRequest(dst uint64) (DataRequestResult, error)
	DeviceMACAddress() uint64
	// NextSequenceNumber returns the sequence number the next frame will use.
	NextSequenceNumber() uint8
	SetFrameRetries(n uint8) error
	Teardown() error
}

// ValidChannel reports whether ch is a legal 2.4 GHz channel
func ValidChannel(ch uint8) bool {
	return ch >= MinChannel && ch <= MaxChannel
}
