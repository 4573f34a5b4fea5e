// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rcp

import (
	"fmt"
	"time"
)

// Decoder implements the packet decoder state machine
type Decoder struct {
	state      int
	buffer     []byte // unstuffed length, tsn and payload
	escapeNext bool
	packet     *Packet
	rawBuffer  []byte // raw bytes including framing
}

// NewDecoder creates a new protocol decoder
func NewDecoder() *Decoder {
	return &Decoder{
		state:     stateIdle,
		buffer:    make([]byte, 0, MaxPacketSize),
		rawBuffer: make([]byte, 0, MaxPacketSize*2),
	}
}

// Reset resets the decoder state to idle
func (d *Decoder) Reset() {
	d.state = stateIdle
	d.buffer = d.buffer[:0]
	d.escapeNext = false
	d.packet = nil
	d.rawBuffer = d.rawBuffer[:0]
}

// GetRawBytes returns the raw bytes of the packet being decoded
func (d *Decoder) GetRawBytes() []byte {
	return d.rawBuffer
}

// DecodeByte processes a single byte through the decoder state machine.
// Returns a completed packet, or nil if the packet is incomplete.
// Returns an error if decoding fails; the decoder is then back to idle.
func (d *Decoder) DecodeByte(b byte) (*Packet, error) {
	if d.state != stateIdle || b == StartByte {
		d.rawBuffer = append(d.rawBuffer, b)
	}

	if d.escapeNext {
		d.escapeNext = false
		return d.consume(b ^ EscXor)
	}

	switch b {
	case StartByte:
		d.Reset()
		d.rawBuffer = append(d.rawBuffer, b)
		d.state = stateLength
		return nil, nil
	case EndByte:
		return d.finish()
	case EscByte:
		if d.state != stateIdle {
			d.escapeNext = true
		}
		return nil, nil
	}
	return d.consume(b)
}

func (d *Decoder) consume(b byte) (*Packet, error) {
	switch d.state {
	case stateIdle:
		// Waiting for START byte
		return nil, nil

	case stateLength:
		if int(b) > MaxPayloadSize {
			d.Reset()
			return nil, fmt.Errorf("%w: invalid length %d (max %d)", ErrFraming, b, MaxPayloadSize)
		}
		d.packet = &Packet{length: b}
		d.buffer = append(d.buffer, b)
		d.state = stateTSN

	case stateTSN:
		d.packet.tsn = b
		d.buffer = append(d.buffer, b)
		if d.packet.length == 0 {
			d.state = stateCRC1
		} else {
			d.state = statePayload
		}

	case statePayload:
		d.buffer = append(d.buffer, b)
		if len(d.buffer)-headerSize >= int(d.packet.length) {
			d.state = stateCRC1
		}

	case stateCRC1:
		d.packet.crc = uint16(b) << 8
		d.state = stateCRC2

	case stateCRC2:
		d.packet.crc |= uint16(b)
		d.state = stateEnd

	case stateEnd:
		d.Reset()
		return nil, fmt.Errorf("%w: expected END, got 0x%02X", ErrFraming, b)

	default:
		state := d.state
		d.Reset()
		return nil, fmt.Errorf("%w: invalid state %d", ErrFraming, state)
	}
	return nil, nil
}

func (d *Decoder) finish() (*Packet, error) {
	if d.state == stateIdle {
		return nil, nil
	}
	if d.state != stateEnd {
		state := d.state
		d.Reset()
		return nil, fmt.Errorf("%w: unexpected END byte in state %d", ErrFraming, state)
	}

	packet := d.packet
	calculated := CalculateCRC(d.buffer)
	if packet.crc != calculated {
		d.Reset()
		return nil, fmt.Errorf("%w: expected 0x%04X, got 0x%04X", ErrCRC, calculated, packet.crc)
	}

	packet.cborPayload = append([]byte(nil), d.buffer[headerSize:]...)
	packet.raw = append([]byte(nil), d.rawBuffer...)
	packet.timestamp = time.Now()

	d.Reset()
	return packet, nil
}

// DecodeAll feeds data through a fresh decoder and returns every complete
// packet along with the decode errors met on the way
func DecodeAll(data []byte) ([]*Packet, []error) {
	d := NewDecoder()
	var packets []*Packet
	var errs []error
	for _, b := range data {
		p, err := d.DecodeByte(b)
		if err != nil {
			errs = append(errs, err)
		}
		if p != nil {
			packets = append(packets, p)
		}
	}
	return packets, errs
}
