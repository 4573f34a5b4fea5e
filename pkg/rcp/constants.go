// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package rcp drives an IEEE 802.15.4 radio co-processor over a byte stream.
//
// Every packet is framed and byte stuffed:
//
//	START | stuffed(length, tsn, CBOR [type, map], CRC16) | END
//
// The host sends commands and the co-processor answers each with a response
// carrying the same transaction sequence number (tsn) and the command type
// with ResponseFlag set. Received radio frames arrive unsolicited as
// FRAME_INDICATION packets with tsn 0.
package rcp

import (
	"errors"
	"time"
)

// Protocol framing bytes
const (
	StartByte = 0x7E
	EndByte   = 0x7F
	EscByte   = 0x7D
	EscXor    = 0x20
)

// Packet size limits
const (
	MaxPayloadSize = 200
	headerSize     = 2 // length + tsn
	crcSize        = 2
	MaxPacketSize  = headerSize + MaxPayloadSize + crcSize
)

// CRC-16-CCITT configuration
const (
	crcPolynomial = 0x1021
	crcInitial    = 0xFFFF
)

// Commands (host → co-processor) 0x01-0x0F
const (
	CmdInit        = 0x01
	CmdSetChannel  = 0x02
	CmdTransmit    = 0x03
	CmdBroadcast   = 0x04
	CmdReceive     = 0x05
	CmdDataRequest = 0x06
	CmdGetInfo     = 0x07
	CmdSetRetries  = 0x08
	CmdTeardown    = 0x09
	CmdPing        = 0x0A
)

// ResponseFlag is set on the type of every response
const ResponseFlag = 0x80

// Indications (co-processor → host) 0xC0-0xCF
const (
	MsgFrameIndication = 0xC0
)

// IndicationTSN is the tsn carried by unsolicited packets
const IndicationTSN = 0

// Status is the first field of every response
type Status uint8

// Status values
const (
	StatusOK       Status = 0x00
	StatusNoAck    Status = 0x01
	StatusInvalid  Status = 0x02
	StatusBusy     Status = 0x03
	StatusNotReady Status = 0x04
)

// DefaultTimeout bounds a request/response exchange
const DefaultTimeout = 2 * time.Second

// Decoder states (internal)
const (
	stateIdle = iota
	stateLength
	stateTSN
	statePayload
	stateCRC1
	stateCRC2
	stateEnd
)

var (
	// ErrCRC is wrapped by decode errors caused by a checksum mismatch
	ErrCRC = errors.New("CRC mismatch")
	// ErrFraming is wrapped by decode errors caused by malformed framing
	ErrFraming = errors.New("framing error")
	// ErrTimeout is returned when the co-processor does not answer in time
	ErrTimeout = errors.New("co-processor timeout")
	// ErrClosed is returned once the link is closed or has failed
	ErrClosed = errors.New("co-processor link closed")
)
