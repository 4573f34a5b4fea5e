// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/ember/pkg/rcp"
)

var rcpLogCmd = &cobra.Command{
	Use:   "rcp_log",
	Short: "Display co-processor link traffic in human-readable format",
	Long: `Continuously decode and display radio co-processor link packets as they
arrive: command responses, frame indications and decode errors.

Run it on a tap of the link (or a WebSocket bridge that mirrors traffic).
Link statistics are printed on exit.

Supports both serial and WebSocket connections.`,
	Args: cobra.NoArgs,
	RunE: runRcpLog,
}

func init() {
	rootCmd.AddCommand(rcpLogCmd)
}

func runRcpLog(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Ember - Co-processor Link Log\n")
	fmt.Fprintf(w, "Connection: %s\n", connInfo)
	fmt.Fprintf(w, "Press Ctrl+C to exit\n\n")

	stats := rcp.NewStatistics()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)
	stopped := make(chan struct{})
	go func() {
		<-sig
		close(stopped)
		conn.Close()
	}()

	err = logPackets(conn, w, stats)
	select {
	case <-stopped:
		// Serial ports report their own close as a read error
		err = nil
	default:
	}
	stats.CalculateRates()
	fmt.Fprintf(w, "\n%s\n", stats)
	return err
}

// logPackets decodes r until it ends, printing every packet and error
func logPackets(r io.Reader, w io.Writer, stats *rcp.Statistics) error {
	decoder := rcp.NewDecoder()
	buf := make([]byte, 256)

	for {
		n, err := r.Read(buf)
		for i := 0; i < n; i++ {
			packet, decodeErr := decoder.DecodeByte(buf[i])
			if decodeErr == nil && packet == nil {
				continue
			}
			stats.Update(packet, decodeErr)
			if decodeErr != nil {
				fmt.Fprintf(w, "[ERROR] %v\n", decodeErr)
				continue
			}
			fmt.Fprint(w, rcp.FormatPacket(packet))
		}

		if err != nil {
			// A closed link ends the log; anything else is reported
			if errors.Is(err, io.EOF) || errors.Is(err, ErrConnectionClosed) || errors.Is(err, os.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
	}
}
