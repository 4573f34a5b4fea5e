// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"os"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/ember/pkg/node"
)

// execRebooter restarts the process from its executable, which picks up a
// freshly installed image. before runs first so state reaches disk.
func execRebooter(log zerolog.Logger, before func()) node.Rebooter {
	return node.RebooterFunc(func() {
		if before != nil {
			before()
		}

		exe, err := os.Executable()
		if err != nil {
			log.Error().Err(err).Msg("reboot: locate executable")
			os.Exit(3)
		}
		log.Info().Str("exe", exe).Msg("rebooting")

		// Only returns on failure
		err = syscall.Exec(exe, os.Args, os.Environ())
		log.Error().Err(err).Msg("reboot: exec")
		os.Exit(3)
	})
}
