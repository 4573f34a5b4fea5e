// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package node

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// BootStateMagic marks a BootState that has been seeded
const BootStateMagic uint32 = 0x454D4252

// BootState is kept by the runtime across sleep and software reset but not
// power loss. It carries the radio sequence counter so frame numbers keep
// advancing across wake cycles.
type BootState struct {
	Magic    uint32 `cbor:"1,keyasint"`
	Sequence uint8  `cbor:"2,keyasint"`
}

// Valid reports whether the state has been seeded since power-on
func (b *BootState) Valid() bool {
	return b != nil && b.Magic == BootStateMagic
}

// Seed starts a new sequence from r and marks the state valid
func (b *BootState) Seed(r io.Reader) error {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return fmt.Errorf("seed sequence: %w", err)
	}
	b.Sequence = buf[0]
	b.Magic = BootStateMagic
	return nil
}

// Invalidate forces the next wake to reseed, as after power loss
func (b *BootState) Invalidate() {
	b.Magic = 0
}

// bootStateWire has no methods, so cbor does not call back into MarshalBinary
type bootStateWire BootState

// MarshalBinary encodes the state for the runtime's retained storage
func (b BootState) MarshalBinary() ([]byte, error) {
	return cbor.Marshal(bootStateWire(b))
}

// UnmarshalBinary decodes a state written by MarshalBinary
func (b *BootState) UnmarshalBinary(data []byte) error {
	var raw bootStateWire
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode boot state: %w", err)
	}
	b.Magic = raw.Magic
	b.Sequence = raw.Sequence
	return nil
}
