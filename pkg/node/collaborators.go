// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package node

import "time"

// Cipher is the authenticated encryption applied to every radio frame
type Cipher interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// Store is a durable key-value store
type Store interface {
	ReadBlob(key string) ([]byte, bool)
	WriteBlob(key string, value []byte) error
	EraseKey(key string) error
}

// WifiConnector joins and leaves a Wi-Fi network
type WifiConnector interface {
	Connect(hostname, ssid, password string, timeout time.Duration) error
	Disconnect() error
}

// FlashMode selects the partition an OTA image is written to
type FlashMode uint8

const (
	FlashFirmware FlashMode = iota
	FlashFilesystem
)

func (m FlashMode) String() string {
	switch m {
	case FlashFirmware:
		return "firmware"
	case FlashFilesystem:
		return "filesystem"
	default:
		return "unknown"
	}
}

// Updater downloads, verifies and writes a firmware image
type Updater interface {
	UpdateFrom(url string, mode FlashMode, md5 string) error
}

// Rebooter restarts the device. Reboot is not expected to return.
type Rebooter interface {
	Reboot()
}

// RebooterFunc adapts a function to Rebooter
type RebooterFunc func()

func (f RebooterFunc) Reboot() { f() }

// FirmwareUpdateHook is consulted after a firmware update attempt.
// It returns true to reboot.
type FirmwareUpdateHook func(successful bool) (reboot bool)
