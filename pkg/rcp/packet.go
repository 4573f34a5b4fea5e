// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rcp

import "time"

// Packet represents a decoded co-processor packet
type Packet struct {
	length      uint8
	tsn         uint8
	cborPayload []byte // Raw CBOR bytes: [msg_type, payload_map]
	crc         uint16
	raw         []byte // Wire bytes including framing
	timestamp   time.Time

	// Cached parsed values (lazy parsing)
	msgType    uint8
	payloadMap map[int]interface{}
	parsed     bool
	parseErr   error
}

// NewPacket creates a packet from its wire fields
func NewPacket(tsn uint8, cborPayload []byte, crc uint16) *Packet {
	return &Packet{
		length:      uint8(len(cborPayload)),
		tsn:         tsn,
		cborPayload: cborPayload,
		crc:         crc,
		timestamp:   time.Now(),
	}
}

// NewPacketWithPayload creates a packet from message type and payload map.
// The CBOR encoding and CRC are computed when the packet is encoded.
func NewPacketWithPayload(tsn uint8, msgType uint8, payload map[int]interface{}) *Packet {
	return &Packet{
		tsn:        tsn,
		msgType:    msgType,
		payloadMap: payload,
		parsed:     true,
		timestamp:  time.Now(),
	}
}

func (p *Packet) ensureParsed() {
	if p.parsed {
		return
	}
	p.parsed = true
	if len(p.cborPayload) == 0 {
		return
	}
	p.msgType, p.payloadMap, p.parseErr = ParseCBORMessage(p.cborPayload)
}

// Length returns the packet's CBOR payload length
func (p *Packet) Length() uint8 {
	return p.length
}

// TSN returns the transaction sequence number
func (p *Packet) TSN() uint8 {
	return p.tsn
}

// Type returns the packet's message type (parsed from CBOR)
func (p *Packet) Type() uint8 {
	p.ensureParsed()
	return p.msgType
}

// Payload returns the raw CBOR payload bytes
func (p *Packet) Payload() []byte {
	return p.cborPayload
}

// PayloadMap returns the decoded CBOR payload map (nil for empty payloads)
func (p *Packet) PayloadMap() map[int]interface{} {
	p.ensureParsed()
	return p.payloadMap
}

// ParseError returns any error from parsing the CBOR payload
func (p *Packet) ParseError() error {
	p.ensureParsed()
	return p.parseErr
}

// CRC returns the packet's CRC value
func (p *Packet) CRC() uint16 {
	return p.crc
}

// Raw returns the bytes the packet was decoded from, framing included
func (p *Packet) Raw() []byte {
	return p.raw
}

// Timestamp returns the packet's decode timestamp
func (p *Packet) Timestamp() time.Time {
	return p.timestamp
}

// IsResponse reports whether the packet answers a command
func (p *Packet) IsResponse() bool {
	t := p.Type()
	return t&ResponseFlag != 0 && t < MsgFrameIndication
}

// IsIndication reports whether the packet was sent unsolicited
func (p *Packet) IsIndication() bool {
	return p.Type() >= MsgFrameIndication && p.Type() <= 0xCF
}

// Command returns the command a response answers
func (p *Packet) Command() uint8 {
	return p.Type() &^ ResponseFlag
}

// Status returns the status field of a response
func (p *Packet) Status() Status {
	s, _ := GetMapUint(p.PayloadMap(), 0)
	return Status(s)
}
