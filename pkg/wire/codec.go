// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrEmpty is returned when decoding a zero-length frame
	ErrEmpty = errors.New("empty frame")
	// ErrTruncated is returned when a body is shorter than its kind requires
	ErrTruncated = errors.New("truncated frame body")
)

// Encode serializes a frame to its tagged binary form
func Encode(f Frame) ([]byte, error) {
	switch v := f.(type) {
	case Message:
		if len(v.Payload) > MaxPayloadSize {
			return nil, fmt.Errorf("payload too large: %d bytes (max %d)", len(v.Payload), MaxPayloadSize)
		}
		buf := make([]byte, tagSize+versionSize, tagSize+versionSize+len(v.Payload))
		buf[0] = byte(KindMessage)
		binary.LittleEndian.PutUint32(buf[1:], v.FirmwareVersion)
		return append(buf, v.Payload...), nil

	case DiscoveryRequest:
		return []byte{byte(KindDiscoveryRequest)}, nil

	case DiscoveryResponse:
		return []byte{byte(KindDiscoveryResponse), v.Channel}, nil

	case PendingTimestampResponse:
		buf := make([]byte, tagSize+8)
		buf[0] = byte(KindPendingTimestampResponse)
		binary.LittleEndian.PutUint64(buf[1:], v.Timestamp)
		return buf, nil

	case PendingPayloadResponse:
		return append([]byte{byte(KindPendingPayloadResponse)}, v.Payload...), nil

	case PendingFirmwareWifiCredentialsResponse:
		buf := newIdentifiedFrame(KindPendingFirmwareWifiCredentialsResponse, v.Identifier, SSIDSize+PasswordSize)
		if err := putString(buf[5:5+SSIDSize], v.SSID, "ssid"); err != nil {
			return nil, err
		}
		if err := putString(buf[5+SSIDSize:], v.Password, "password"); err != nil {
			return nil, err
		}
		return buf, nil

	case PendingFirmwareChecksumResponse:
		buf := newIdentifiedFrame(KindPendingFirmwareChecksumResponse, v.Identifier, MD5Size)
		if err := putString(buf[5:], v.MD5, "md5"); err != nil {
			return nil, err
		}
		return buf, nil

	case PendingFirmwareURLResponse:
		buf := newIdentifiedFrame(KindPendingFirmwareURLResponse, v.Identifier, URLSize)
		if err := putString(buf[5:], v.URL, "url"); err != nil {
			return nil, err
		}
		return buf, nil

	case Unknown:
		return append([]byte{v.Tag}, v.Body...), nil

	default:
		return nil, fmt.Errorf("unsupported frame type %T", f)
	}
}

// Decode parses a tagged frame. An unrecognised tag yields Unknown, not an error.
func Decode(data []byte) (Frame, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	kind := Kind(data[0])
	body := data[1:]

	switch kind {
	case KindMessage:
		if len(body) < versionSize {
			return nil, truncated(kind, len(body), versionSize)
		}
		payload := body[versionSize:]
		if len(payload) > MaxPayloadSize {
			return nil, fmt.Errorf("%s: payload too large: %d bytes", kind, len(payload))
		}
		return Message{
			FirmwareVersion: binary.LittleEndian.Uint32(body),
			Payload:         clone(payload),
		}, nil

	case KindDiscoveryRequest:
		return DiscoveryRequest{}, nil

	case KindDiscoveryResponse:
		if len(body) < 1 {
			return nil, truncated(kind, len(body), 1)
		}
		return DiscoveryResponse{Channel: body[0]}, nil

	case KindPendingTimestampResponse:
		if len(body) < 8 {
			return nil, truncated(kind, len(body), 8)
		}
		return PendingTimestampResponse{Timestamp: binary.LittleEndian.Uint64(body)}, nil

	case KindPendingPayloadResponse:
		return PendingPayloadResponse{Payload: clone(body)}, nil

	case KindPendingFirmwareWifiCredentialsResponse:
		if len(body) < identifierSize+SSIDSize+PasswordSize {
			return nil, truncated(kind, len(body), identifierSize+SSIDSize+PasswordSize)
		}
		return PendingFirmwareWifiCredentialsResponse{
			Identifier: binary.LittleEndian.Uint32(body),
			SSID:       getString(body[identifierSize : identifierSize+SSIDSize]),
			Password:   getString(body[identifierSize+SSIDSize : identifierSize+SSIDSize+PasswordSize]),
		}, nil

	case KindPendingFirmwareChecksumResponse:
		if len(body) < identifierSize+MD5Size {
			return nil, truncated(kind, len(body), identifierSize+MD5Size)
		}
		return PendingFirmwareChecksumResponse{
			Identifier: binary.LittleEndian.Uint32(body),
			MD5:        getString(body[identifierSize : identifierSize+MD5Size]),
		}, nil

	case KindPendingFirmwareURLResponse:
		if len(body) < identifierSize+URLSize {
			return nil, truncated(kind, len(body), identifierSize+URLSize)
		}
		return PendingFirmwareURLResponse{
			Identifier: binary.LittleEndian.Uint32(body),
			URL:        getString(body[identifierSize : identifierSize+URLSize]),
		}, nil

	default:
		return Unknown{Tag: data[0], Body: clone(body)}, nil
	}
}

func newIdentifiedFrame(kind Kind, identifier uint32, fields int) []byte {
	buf := make([]byte, tagSize+identifierSize+fields)
	buf[0] = byte(kind)
	binary.LittleEndian.PutUint32(buf[1:], identifier)
	return buf
}

// putString copies s into a NUL-padded field. A string filling the whole
// field is stored without a terminator.
func putString(field []byte, s, name string) error {
	if len(s) > len(field) {
		return fmt.Errorf("%s too long: %d bytes (max %d)", name, len(s), len(field))
	}
	copy(field, s)
	return nil
}

func getString(field []byte) string {
	if i := bytes.IndexByte(field, 0); i >= 0 {
		field = field[:i]
	}
	return string(field)
}

func clone(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}

func truncated(kind Kind, got, want int) error {
	return fmt.Errorf("%s: %w: %d bytes (need %d)", kind, ErrTruncated, got, want)
}
