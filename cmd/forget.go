// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var forgetCmd = &cobra.Command{
	Use:   "forget",
	Short: "Erase the persisted host so the next wake rediscovers",
	Long: `Erase the host address and channel from the state store.

The next send scans the channels for a host again. Use this after moving
the node to another network.`,
	Args: cobra.NoArgs,
	RunE: runForget,
}

func init() {
	rootCmd.AddCommand(forgetCmd)
}

func runForget(cmd *cobra.Command, args []string) error {
	s, err := openSession(appConfig, logger, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.node.Forget(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Host forgotten")
	return nil
}
