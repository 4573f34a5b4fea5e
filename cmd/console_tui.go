// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/ember/pkg/node"
	"github.com/Thermoquad/ember/pkg/rcp"
	"github.com/Thermoquad/ember/pkg/wire"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	maxLogLines     = 500
	maxPendingItems = 8
	logPanelMinRows = 5
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// pendingItem is one piece of data the host handed over
type pendingItem struct {
	at   time.Time
	text string
}

// consoleModel is the Bubble Tea model for the node console
type consoleModel struct {
	sess *session

	// Input
	input   textinput.Model
	hexMode bool

	// Round state
	busy      bool
	rounds    int
	delivered int
	lastRound time.Duration
	lastOK    bool
	pending   []pendingItem

	// Link
	stats    rcp.Statistics
	linkLost bool
	linkErr  error

	// Log
	logLines []string
	logView  viewport.Model
	status   string

	// UI state
	width    int
	height   int
	quitting bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type consoleTickMsg time.Time

type logLineMsg string

type linkLostMsg struct {
	err error
}

type roundDoneMsg struct {
	ok        bool
	elapsed   time.Duration
	timestamp *uint64
	payload   []byte
}

type forgetDoneMsg struct {
	err error
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialConsoleModel(s *session) consoleModel {
	ti := textinput.New()
	ti.Placeholder = "payload"
	ti.CharLimit = 2 * wire.MaxPayloadSize
	ti.Width = 60
	ti.Focus()

	return consoleModel{
		sess:    s,
		input:   ti,
		logView: viewport.New(80, logPanelMinRows),
		width:   80,
		height:  24,
		status:  "Ready",
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m consoleModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, consoleTickCmd())
}

func consoleTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return consoleTickMsg(t)
	})
}

func (m consoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "esc", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "enter":
			return m.startRound()
		case "tab":
			m.hexMode = !m.hexMode
			if m.hexMode {
				m.input.Placeholder = "hex payload, e.g. 01 02 0A"
			} else {
				m.input.Placeholder = "payload"
			}
			return m, nil
		case "ctrl+f":
			return m.startForget()
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.logView, cmd = m.logView.Update(msg)
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()

	case consoleTickMsg:
		if m.sess.driver != nil {
			m.stats = m.sess.driver.Stats()
			m.stats.CalculateRates()
		}
		return m, consoleTickCmd()

	case logLineMsg:
		m.appendLog(string(msg))

	case linkLostMsg:
		m.linkLost = true
		m.linkErr = msg.err
		m.status = "Link lost"

	case roundDoneMsg:
		m.busy = false
		m.rounds++
		m.lastOK = msg.ok
		m.lastRound = msg.elapsed
		if msg.ok {
			m.delivered++
			m.status = fmt.Sprintf("Delivered in %s", msg.elapsed.Round(time.Millisecond))
		} else {
			m.status = fmt.Sprintf("FAILED after %s", msg.elapsed.Round(time.Millisecond))
		}
		if msg.timestamp != nil {
			m.addPending(fmt.Sprintf("timestamp %d", *msg.timestamp))
		}
		if msg.payload != nil {
			m.addPending("payload " + formatPayload(msg.payload))
		}

	case forgetDoneMsg:
		m.busy = false
		if msg.err != nil {
			m.status = fmt.Sprintf("Forget failed: %v", msg.err)
		} else {
			m.status = "Host forgotten, next send discovers"
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// startRound runs SendMessage off the UI goroutine
func (m consoleModel) startRound() (tea.Model, tea.Cmd) {
	if m.busy {
		return m, nil
	}
	if m.linkLost {
		m.status = "Cannot send: link lost"
		return m, nil
	}

	payload, err := parsePayload(m.input.Value(), m.hexMode)
	if err != nil {
		m.status = err.Error()
		return m, nil
	}
	m.input.SetValue("")
	m.busy = true
	m.status = "Sending..."

	n := m.sess.node
	return m, func() tea.Msg {
		return runRound(n, payload)
	}
}

func runRound(n *node.Node, payload []byte) roundDoneMsg {
	start := time.Now()
	msg := roundDoneMsg{ok: n.SendMessage(payload)}
	msg.elapsed = time.Since(start)
	if ts, ok := n.PendingTimestamp(); ok {
		msg.timestamp = &ts
	}
	if p, ok := n.PendingPayload(); ok {
		// Keep an empty payload distinguishable from none
		msg.payload = append([]byte{}, p...)
	}
	return msg
}

func (m consoleModel) startForget() (tea.Model, tea.Cmd) {
	if m.busy {
		return m, nil
	}
	m.busy = true
	m.status = "Forgetting host..."

	n := m.sess.node
	return m, func() tea.Msg {
		return forgetDoneMsg{err: n.Forget()}
	}
}

func (m *consoleModel) appendLog(line string) {
	m.logLines = append(m.logLines, line)
	if len(m.logLines) > maxLogLines {
		m.logLines = m.logLines[len(m.logLines)-maxLogLines:]
	}
	atBottom := m.logView.AtBottom()
	m.logView.SetContent(strings.Join(m.logLines, "\n"))
	if atBottom {
		m.logView.GotoBottom()
	}
}

func (m *consoleModel) addPending(text string) {
	m.pending = append(m.pending, pendingItem{at: time.Now(), text: text})
	if len(m.pending) > maxPendingItems {
		m.pending = m.pending[len(m.pending)-maxPendingItems:]
	}
}

// resize gives the log whatever height the fixed panels leave over
func (m *consoleModel) resize() {
	// title, status, stats box, pending box, input and borders
	fixed := 4 + 3 + maxPendingItems + 2 + 3 + 2
	rows := m.height - fixed
	if rows < logPanelMinRows {
		rows = logPanelMinRows
	}
	m.logView.Width = m.width - 4
	m.logView.Height = rows
	m.input.Width = m.width - 12
	m.logView.GotoBottom()
}

func (m consoleModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	// Header
	s.WriteString(titleStyle.Render("EMBER CONSOLE"))
	s.WriteString(" ")
	link := m.sess.connInfo
	if m.linkLost {
		link = errorStyle.Render("LINK LOST")
		if m.linkErr != nil {
			link += headerStyle.Render(fmt.Sprintf(" (%v)", m.linkErr))
		}
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | Enter=send Tab=hex Ctrl+F=forget Esc=quit", link)))
	s.WriteString("\n")

	// Node identity and persisted host
	s.WriteString(m.renderIdentity(labelStyle, valueStyle, headerStyle))
	s.WriteString("\n")

	// Statistics
	s.WriteString(m.renderStatistics(labelStyle, valueStyle, errorStyle, boxStyle))
	s.WriteString("\n")

	// Pending data
	s.WriteString(m.renderPending(labelStyle, headerStyle, boxStyle))
	s.WriteString("\n")

	// Log
	s.WriteString(labelStyle.Render("LOG"))
	s.WriteString("\n")
	s.WriteString(boxStyle.Width(m.width - 2).Render(m.logView.View()))
	s.WriteString("\n")

	// Input
	mode := "text"
	if m.hexMode {
		mode = "hex "
	}
	s.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render(mode+">"), m.input.View()))

	status := valueStyle.Render(m.status)
	switch {
	case m.busy:
		status = warningStyle.Render(m.status)
	case m.rounds > 0 && !m.lastOK, m.linkLost:
		status = errorStyle.Render(m.status)
	}
	s.WriteString(status)

	return s.String()
}

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

func (m consoleModel) renderIdentity(labelStyle, valueStyle, headerStyle lipgloss.Style) string {
	n := m.sess.node
	parts := []string{
		fmt.Sprintf("%s %s", labelStyle.Render("Node:"), valueStyle.Render(fmt.Sprintf("%016X", n.DeviceMACAddress()))),
	}
	if host, ok := node.LoadHostState(m.sess.store); ok {
		parts = append(parts,
			fmt.Sprintf("%s %s", labelStyle.Render("Host:"), valueStyle.Render(fmt.Sprintf("%016X", host.Address))),
			fmt.Sprintf("%s %s", labelStyle.Render("Channel:"), valueStyle.Render(fmt.Sprintf("%d", host.Channel))))
	} else {
		parts = append(parts, headerStyle.Render("Host: (none, next send discovers)"))
	}
	return " " + strings.Join(parts, "  ")
}

func (m consoleModel) renderStatistics(labelStyle, valueStyle, errorStyle, boxStyle lipgloss.Style) string {
	var validPercent float64
	if m.stats.TotalPackets > 0 {
		validPercent = float64(m.stats.ValidPackets) * 100.0 / float64(m.stats.TotalPackets)
	}
	linkErrors := m.stats.CRCErrors + m.stats.DecodeErrors + m.stats.ParseErrors + m.stats.Timeouts

	errText := valueStyle.Render("0")
	if linkErrors > 0 {
		errText = errorStyle.Render(fmt.Sprintf("%d", linkErrors))
	}

	content := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s  %s %s",
		labelStyle.Render("Rounds:"), valueStyle.Render(fmt.Sprintf("%d/%d", m.delivered, m.rounds)),
		labelStyle.Render("Packets:"), valueStyle.Render(fmt.Sprintf("%d", m.stats.TotalPackets)),
		labelStyle.Render("Valid:"), valueStyle.Render(fmt.Sprintf("%.1f%%", validPercent)),
		labelStyle.Render("Errors:"), errText,
		labelStyle.Render("Rate:"), valueStyle.Render(fmt.Sprintf("%.1f pkt/s", m.stats.PacketRate)),
	)
	if m.lastRound > 0 {
		content += fmt.Sprintf("  %s %s", labelStyle.Render("Last:"), valueStyle.Render(m.lastRound.Round(time.Millisecond).String()))
	}
	return boxStyle.Width(m.width - 2).Render(content)
}

func (m consoleModel) renderPending(labelStyle, headerStyle, boxStyle lipgloss.Style) string {
	var content strings.Builder
	content.WriteString(labelStyle.Render("PENDING FROM HOST"))
	if len(m.pending) == 0 {
		content.WriteString("\n")
		content.WriteString(headerStyle.Render("nothing received yet"))
	}
	for _, p := range m.pending {
		content.WriteString("\n")
		content.WriteString(fmt.Sprintf("%s %s", headerStyle.Render(p.at.Format("15:04:05")), p.text))
	}
	return boxStyle.Width(m.width - 2).Render(content.String())
}
