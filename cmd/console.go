// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/ember/pkg/observability"
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Interactive console: send messages and watch the node",
	Long: `Open an interactive terminal UI on the node.

Type a payload and press Enter to run a wake cycle with it. Pending data from
the host, the node log and live link statistics are shown as they arrive.

Keys:
  Enter   send the typed payload
  Tab     toggle hex payload entry
  Ctrl+F  forget the persisted host
  Esc     quit`,
	Args: cobra.NoArgs,
	RunE: runConsole,
}

func init() {
	rootCmd.AddCommand(consoleCmd)
}

func runConsole(cmd *cobra.Command, args []string) error {
	level, err := observability.ParseLevel(appConfig.Log.Level)
	if err != nil {
		return err
	}

	// Log lines go into the UI instead of the terminal
	sink := &logSink{}
	log := observability.NewLogger("ember", level, sink)

	s, err := openSession(appConfig, log, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	m := initialConsoleModel(s)
	p := tea.NewProgram(m, tea.WithAltScreen())
	sink.attach(p)

	go func() {
		<-s.driver.Done()
		p.Send(linkLostMsg{err: s.driver.Err()})
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("console: %w", err)
	}
	return nil
}

// logSink forwards formatted log lines to the running program. Lines
// written before the program starts are held back until it does.
type logSink struct {
	mu    sync.Mutex
	p     *tea.Program
	early []string
}

func (l *logSink) Write(b []byte) (int, error) {
	line := strings.TrimRight(string(b), "\n")

	l.mu.Lock()
	p := l.p
	if p == nil {
		l.early = append(l.early, line)
	}
	l.mu.Unlock()

	if p != nil {
		p.Send(logLineMsg(line))
	}
	return len(b), nil
}

func (l *logSink) attach(p *tea.Program) {
	l.mu.Lock()
	early := l.early
	l.early = nil
	l.p = p
	l.mu.Unlock()

	go func() {
		for _, line := range early {
			p.Send(logLineMsg(line))
		}
	}()
}
