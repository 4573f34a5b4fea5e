// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package wire implements the node/host radio message format.
//
// Every message is a one-byte kind tag followed by a kind-specific body.
// Integers are little-endian. Strings are fixed-width, NUL-padded fields.
package wire

// Message kinds
const (
	KindMessage                                Kind = 0x01
	KindDiscoveryRequest                       Kind = 0x02
	KindDiscoveryResponse                      Kind = 0x03
	KindPendingTimestampResponse               Kind = 0x04
	KindPendingPayloadResponse                 Kind = 0x05
	KindPendingFirmwareWifiCredentialsResponse Kind = 0x06
	KindPendingFirmwareChecksumResponse        Kind = 0x07
	KindPendingFirmwareURLResponse             Kind = 0x08
)

// Field sizes
const (
	// MaxPayloadSize is the largest application payload a Message can carry
	MaxPayloadSize = 74

	SSIDSize     = 32
	PasswordSize = 32
	URLSize      = 74
	MD5Size      = 32

	tagSize        = 1
	versionSize    = 4
	identifierSize = 4
)

// MaxFrameSize is the largest encoded frame (a full Message)
const MaxFrameSize = tagSize + versionSize + MaxPayloadSize
