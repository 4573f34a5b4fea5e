// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/ember/pkg/rcp"
)

var (
	rcpPingTimeout int
	rcpPingCount   int
)

var rcpPingCmd = &cobra.Command{
	Use:   "rcp_ping",
	Short: "Test the co-processor link by sending PING commands",
	Long: `Send PING commands to the radio co-processor and wait for the responses.

The co-processor answers with its uptime. This verifies:
  - The serial port or WebSocket bridge is up
  - HTTP Basic authentication works (WebSocket)
  - Framing and CRC agree in both directions

Exit codes:
  0 - All pings successful
  1 - One or more pings failed/timed out
  2 - Connection error`,
	Args: cobra.NoArgs,
	RunE: runRcpPing,
}

func init() {
	rootCmd.AddCommand(rcpPingCmd)
	rcpPingCmd.Flags().IntVar(&rcpPingTimeout, "timeout", 5, "Timeout in seconds for each ping")
	rcpPingCmd.Flags().IntVar(&rcpPingCount, "count", 3, "Number of pings to send")
}

func runRcpPing(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	timeout := time.Duration(rcpPingTimeout) * time.Second
	d, err := rcp.Open(conn, rcp.Options{Timeout: timeout, Logger: logger})
	if err != nil {
		conn.Close()
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Ember - Co-processor Ping Test\n")
	fmt.Fprintf(w, "Connection: %s\n", connInfo)
	fmt.Fprintf(w, "Timeout: %d seconds per ping\n", rcpPingTimeout)
	fmt.Fprintf(w, "Count: %d pings\n\n", rcpPingCount)

	failCount := pingLoop(w, d, rcpPingCount, 100*time.Millisecond)
	d.Close()

	if failCount > 0 {
		os.Exit(1)
	}
	return nil
}

type pinger interface {
	Ping() (uptime, rtt time.Duration, err error)
}

// pingLoop sends count pings and prints a summary, returning the failures
func pingLoop(w io.Writer, p pinger, count int, gap time.Duration) int {
	successCount := 0
	failCount := 0

	for i := 1; i <= count; i++ {
		fmt.Fprintf(w, "Ping %d/%d: ", i, count)

		uptime, rtt, err := p.Ping()
		if err != nil {
			fmt.Fprintf(w, "FAILED: %v\n", err)
			failCount++
		} else {
			fmt.Fprintf(w, "PONG from co-processor, uptime=%s, rtt=%v\n",
				rcp.FormatUptime(uint64(uptime.Milliseconds())), rtt.Round(time.Millisecond))
			successCount++
		}

		if i < count {
			time.Sleep(gap)
		}
	}

	fmt.Fprintf(w, "\n--- Ping statistics ---\n")
	loss := 0.0
	if count > 0 {
		loss = float64(failCount) / float64(count) * 100
	}
	fmt.Fprintf(w, "%d pings sent, %d responses received, %.0f%% packet loss\n", count, successCount, loss)
	return failCount
}
