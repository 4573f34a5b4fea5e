// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Ember - IEEE 802.15.4 sleeping node
//
// Wakes, delivers one encrypted message to its host over an 802.15.4 radio
// co-processor, collects pending data and firmware updates, and sleeps.

package main

import (
	"os"

	"github.com/Thermoquad/ember/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
