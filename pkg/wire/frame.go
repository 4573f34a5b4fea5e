// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wire

import "fmt"

// Kind is the tag byte that leads every frame
type Kind uint8

// String returns the human-readable name of the kind
func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "MESSAGE"
	case KindDiscoveryRequest:
		return "DISCOVERY_REQUEST"
	case KindDiscoveryResponse:
		return "DISCOVERY_RESPONSE"
	case KindPendingTimestampResponse:
		return "PENDING_TIMESTAMP_RESPONSE"
	case KindPendingPayloadResponse:
		return "PENDING_PAYLOAD_RESPONSE"
	case KindPendingFirmwareWifiCredentialsResponse:
		return "PENDING_FIRMWARE_WIFI_CREDENTIALS_RESPONSE"
	case KindPendingFirmwareChecksumResponse:
		return "PENDING_FIRMWARE_CHECKSUM_RESPONSE"
	case KindPendingFirmwareURLResponse:
		return "PENDING_FIRMWARE_URL_RESPONSE"
	default:
		return fmt.Sprintf("UNKNOWN_0x%02X", uint8(k))
	}
}

// Frame is one of the concrete frame types in this package.
// Decode returns Unknown for unrecognised tags.
type Frame interface {
	Kind() Kind
	frame()
}

// Message carries an application payload from node to host
type Message struct {
	FirmwareVersion uint32
	Payload         []byte
}

// DiscoveryRequest is broadcast by a node looking for its host
type DiscoveryRequest struct{}

// DiscoveryResponse advertises the channel the host listens on
type DiscoveryResponse struct {
	Channel uint8
}

// PendingTimestampResponse carries the host's wall clock in UTC seconds
type PendingTimestampResponse struct {
	Timestamp uint64
}

// PendingPayloadResponse carries opaque application data for the node
type PendingPayloadResponse struct {
	Payload []byte
}

// PendingFirmwareWifiCredentialsResponse is the network part of a firmware update
type PendingFirmwareWifiCredentialsResponse struct {
	Identifier uint32
	SSID       string
	Password   string
}

// PendingFirmwareChecksumResponse is the checksum part of a firmware update
type PendingFirmwareChecksumResponse struct {
	Identifier uint32
	MD5        string
}

// PendingFirmwareURLResponse is the location part of a firmware update
type PendingFirmwareURLResponse struct {
	Identifier uint32
	URL        string
}

// Unknown is a frame whose tag this package does not recognise
type Unknown struct {
	Tag  uint8
	Body []byte
}

func (Message) Kind() Kind                                { return KindMessage }
func (DiscoveryRequest) Kind() Kind                       { return KindDiscoveryRequest }
func (DiscoveryResponse) Kind() Kind                      { return KindDiscoveryResponse }
func (PendingTimestampResponse) Kind() Kind               { return KindPendingTimestampResponse }
func (PendingPayloadResponse) Kind() Kind                 { return KindPendingPayloadResponse }
func (PendingFirmwareWifiCredentialsResponse) Kind() Kind { return KindPendingFirmwareWifiCredentialsResponse }
func (PendingFirmwareChecksumResponse) Kind() Kind        { return KindPendingFirmwareChecksumResponse }
func (PendingFirmwareURLResponse) Kind() Kind             { return KindPendingFirmwareURLResponse }
func (u Unknown) Kind() Kind                              { return Kind(u.Tag) }

func (Message) frame()                                {}
func (DiscoveryRequest) frame()                       {}
func (DiscoveryResponse) frame()                      {}
func (PendingTimestampResponse) frame()               {}
func (PendingPayloadResponse) frame()                 {}
func (PendingFirmwareWifiCredentialsResponse) frame() {}
func (PendingFirmwareChecksumResponse) frame()        {}
func (PendingFirmwareURLResponse) frame()             {}
func (Unknown) frame()                                {}
