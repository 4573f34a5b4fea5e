// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/ember/pkg/node"
	"github.com/Thermoquad/ember/pkg/rcp"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show persisted host, boot state and co-processor identity",
	Long: `Print what the node knows between wakes: the host and channel from the
state store and the boot state with its sequence number.

When --port or --url is given the co-processor is queried as well and its
MAC address, firmware version and the node hostname used for updates are
shown.`,
	Args: cobra.NoArgs,
	RunE: runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()
	cfg := appConfig

	st, closeStore, err := openStore(cfg.Store, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	fmt.Fprintf(w, "Store:      %s %s\n", cfg.Store.Type, cfg.Store.Path)
	if host, ok := node.LoadHostState(st); ok {
		fmt.Fprintf(w, "Host:       %016X\n", host.Address)
		fmt.Fprintf(w, "Channel:    %d\n", host.Channel)
	} else {
		fmt.Fprintln(w, "Host:       (none, next wake discovers)")
	}

	boot := loadBootState(cfg.BootState, logger)
	if boot.Valid() {
		fmt.Fprintf(w, "Boot state: warm, next sequence %d\n", boot.Sequence)
	} else {
		fmt.Fprintln(w, "Boot state: cold, sequence is reseeded on next wake")
	}

	if portName == "" && wsURL == "" {
		return nil
	}
	return printLinkInfo(w)
}

func printLinkInfo(w io.Writer) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	d, err := rcp.Open(conn, rcp.Options{Logger: logger})
	if err != nil {
		conn.Close()
		return err
	}
	defer d.Close()

	info, err := d.Info()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Link:       %s\n", connInfo)
	fmt.Fprintf(w, "MAC:        %016X\n", info.MAC)
	fmt.Fprintf(w, "Hostname:   %s\n", node.Hostname(info.MAC))
	fmt.Fprintf(w, "Version:    %s\n", info.Version)
	fmt.Fprintf(w, "Radio seq:  %d\n", info.Sequence)
	return nil
}
