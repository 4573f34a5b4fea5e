// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"io/fs"
	"os"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/ember/pkg/node"
	"github.com/Thermoquad/ember/pkg/store"
)

// loadBootState reads the boot state kept in RAM-backed storage. A missing
// or unreadable file is a cold boot: the node reseeds on first power-up.
func loadBootState(path string, log zerolog.Logger) *node.BootState {
	b := &node.BootState{}
	if path == "" {
		return b
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Debug().Str("path", path).Msg("no boot state, cold boot")
		return b
	case err != nil:
		log.Warn().Err(err).Str("path", path).Msg("read boot state")
		return b
	}

	if err := b.UnmarshalBinary(data); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("discarding corrupt boot state")
		return &node.BootState{}
	}
	return b
}

// saveBootState writes b so the next wake continues its sequence numbers
func saveBootState(path string, b node.BootState) error {
	if path == "" {
		return nil
	}
	data, err := b.MarshalBinary()
	if err != nil {
		return err
	}
	return store.WriteFileAtomic(path, data, 0o600)
}
