// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/ember/pkg/node"
	"github.com/Thermoquad/ember/pkg/wire"
)

var sendHex bool

var sendCmd = &cobra.Command{
	Use:   "send <payload>",
	Short: "Run one wake cycle: deliver a message and collect pending data",
	Long: `Deliver one message to the host and collect whatever the host holds for
this node, exactly as a node does on each wake.

The host is taken from the state store or found by scanning channels. Pending
timestamp and payload are printed when the host sends them. If the host pushes
a firmware update it is installed before the command returns.

Exit codes:
  0 - Message delivered and pending data collected
  1 - Delivery or data request failed
  2 - Setup error (configuration, link)`,
	Args: cobra.ExactArgs(1),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().BoolVar(&sendHex, "hex", false, "Payload is hex encoded")
}

func runSend(cmd *cobra.Command, args []string) error {
	payload, err := parsePayload(args[0], sendHex)
	if err != nil {
		return err
	}

	s, err := openSession(appConfig, logger, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Setup error: %v\n", err)
		os.Exit(2)
	}

	ok := s.node.SendMessage(payload)
	printRound(cmd.OutOrStdout(), s.node, ok)

	if err := s.Close(); err != nil {
		logger.Warn().Err(err).Msg("shutdown")
	}
	if !ok {
		os.Exit(1)
	}
	return nil
}

// parsePayload turns the command line argument into message bytes
func parsePayload(arg string, isHex bool) ([]byte, error) {
	payload := []byte(arg)
	if isHex {
		var err error
		payload, err = hex.DecodeString(strings.ReplaceAll(arg, " ", ""))
		if err != nil {
			return nil, fmt.Errorf("payload: not valid hex: %w", err)
		}
	}
	if len(payload) > wire.MaxPayloadSize {
		return nil, fmt.Errorf("payload: %d bytes, at most %d allowed", len(payload), wire.MaxPayloadSize)
	}
	return payload, nil
}

// printRound reports the outcome of one SendMessage and drains pending data
func printRound(w io.Writer, n *node.Node, ok bool) {
	if ok {
		fmt.Fprintln(w, "Delivered")
	} else {
		fmt.Fprintln(w, "FAILED")
	}
	if ts, has := n.PendingTimestamp(); has {
		fmt.Fprintf(w, "Pending timestamp: %d\n", ts)
	}
	if p, has := n.PendingPayload(); has {
		fmt.Fprintf(w, "Pending payload:   %s\n", formatPayload(p))
	}
}

// formatPayload shows printable payloads as text and anything else as hex
func formatPayload(p []byte) string {
	for _, b := range p {
		if b < 0x20 || b > 0x7E {
			return fmt.Sprintf("% X (%d bytes)", p, len(p))
		}
	}
	return fmt.Sprintf("%q (%d bytes)", p, len(p))
}
