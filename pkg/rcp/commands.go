// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rcp

import "github.com/Thermoquad/ember/pkg/radio"

// Command builder functions create Packet structs ready for encoding.
// The driver assigns the tsn when a command is sent, so builders leave it 0.

// NewInit creates an INIT packet (0x01).
// Powers the radio up with the given PAN, transmit power and first sequence number.
func NewInit(cfg radio.Config) *Packet {
	return NewPacketWithPayload(0, CmdInit, map[int]interface{}{
		0: uint64(cfg.PANID),
		1: int64(cfg.TxPower),
		2: uint64(cfg.SequenceNumber),
	})
}

// NewSetChannel creates a SET_CHANNEL packet (0x02).
func NewSetChannel(channel uint8) *Packet {
	return NewPacketWithPayload(0, CmdSetChannel, map[int]interface{}{
		0: uint64(channel),
	})
}

// NewTransmit creates a TRANSMIT packet (0x03).
// The response status is StatusNoAck when the destination did not acknowledge.
func NewTransmit(dst uint64, data []byte) *Packet {
	return NewPacketWithPayload(0, CmdTransmit, map[int]interface{}{
		0: dst,
		1: data,
	})
}

// NewBroadcast creates a BROADCAST packet (0x04).
func NewBroadcast(data []byte) *Packet {
	return NewPacketWithPayload(0, CmdBroadcast, map[int]interface{}{
		1: data,
	})
}

// NewReceive creates a RECEIVE packet (0x05).
// While enabled the co-processor forwards every frame as FRAME_INDICATION.
func NewReceive(enabled bool) *Packet {
	return NewPacketWithPayload(0, CmdReceive, map[int]interface{}{
		0: enabled,
	})
}

// NewDataRequest creates a DATA_REQUEST packet (0x06).
func NewDataRequest(dst uint64) *Packet {
	return NewPacketWithPayload(0, CmdDataRequest, map[int]interface{}{
		0: dst,
	})
}

// NewGetInfo creates a GET_INFO packet (0x07).
func NewGetInfo() *Packet {
	return NewPacketWithPayload(0, CmdGetInfo, nil)
}

// NewSetRetries creates a SET_RETRIES packet (0x08).
func NewSetRetries(retries uint8) *Packet {
	return NewPacketWithPayload(0, CmdSetRetries, map[int]interface{}{
		0: uint64(retries),
	})
}

// NewTeardown creates a TEARDOWN packet (0x09).
// The response carries the sequence number the next frame would have used.
func NewTeardown() *Packet {
	return NewPacketWithPayload(0, CmdTeardown, nil)
}

// NewPing creates a PING packet (0x0A).
func NewPing() *Packet {
	return NewPacketWithPayload(0, CmdPing, nil)
}

// NewResponse creates the response to cmd. fields must not use key 0,
// which carries the status.
func NewResponse(tsn uint8, cmd uint8, status Status, fields map[int]interface{}) *Packet {
	payload := map[int]interface{}{0: uint64(status)}
	for k, v := range fields {
		payload[k] = v
	}
	return NewPacketWithPayload(tsn, cmd|ResponseFlag, payload)
}

// NewFrameIndication creates a FRAME_INDICATION packet (0xC0) for a received frame.
func NewFrameIndication(f radio.Frame) *Packet {
	return NewPacketWithPayload(IndicationTSN, MsgFrameIndication, map[int]interface{}{
		0: f.SourceAddress,
		1: f.Payload,
		2: int64(f.RSSI),
		3: uint64(f.Channel),
	})
}

// FrameFromIndication extracts the radio frame from a FRAME_INDICATION packet
func FrameFromIndication(p *Packet) (radio.Frame, bool) {
	if p.Type() != MsgFrameIndication {
		return radio.Frame{}, false
	}
	m := p.PayloadMap()
	src, ok := GetMapUint(m, 0)
	if !ok {
		return radio.Frame{}, false
	}
	// A nil payload encodes as CBOR null
	data, _ := GetMapBytes(m, 1)
	rssi, _ := GetMapInt(m, 2)
	channel, _ := GetMapUint(m, 3)
	return radio.Frame{
		SourceAddress: src,
		Channel:       uint8(channel),
		RSSI:          int8(rssi),
		Payload:       data,
	}, true
}
