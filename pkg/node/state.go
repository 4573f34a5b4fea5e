// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package node

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/Thermoquad/ember/pkg/radio"
)

// Store keys for the discovered host
const (
	KeyHost    = "host"
	KeyChannel = "channel"
)

// HostState is the host a node discovered, as kept in the durable store
type HostState struct {
	Channel uint8
	Address uint64
}

// LoadHostState reads the persisted host. Both keys must be present and
// well formed; anything else reads as no host.
func LoadHostState(s Store) (HostState, bool) {
	ch, ok := s.ReadBlob(KeyChannel)
	if !ok || len(ch) != 1 || !radio.ValidChannel(ch[0]) {
		return HostState{}, false
	}
	host, ok := s.ReadBlob(KeyHost)
	if !ok || len(host) != 8 {
		return HostState{}, false
	}
	return HostState{Channel: ch[0], Address: binary.LittleEndian.Uint64(host)}, true
}

// saveHostState writes channel then host. If the host write fails the
// channel is erased again so the pair is never half present.
func saveHostState(s Store, st HostState) error {
	if err := s.WriteBlob(KeyChannel, []byte{st.Channel}); err != nil {
		return fmt.Errorf("write %s: %w", KeyChannel, err)
	}
	host := make([]byte, 8)
	binary.LittleEndian.PutUint64(host, st.Address)
	if err := s.WriteBlob(KeyHost, host); err != nil {
		return errors.Join(
			fmt.Errorf("write %s: %w", KeyHost, err),
			s.EraseKey(KeyChannel),
		)
	}
	return nil
}

// eraseHostState removes host before channel; a channel alone is ignored on load
func eraseHostState(s Store) error {
	return errors.Join(s.EraseKey(KeyHost), s.EraseKey(KeyChannel))
}

// Hostname derives the network hostname used while flashing
func Hostname(deviceAddress uint64) string {
	return fmt.Sprintf("0x%016x", deviceAddress)
}

func hexAddr(addr uint64) string {
	return fmt.Sprintf("0x%016X", addr)
}
