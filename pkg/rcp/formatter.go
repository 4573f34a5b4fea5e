// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rcp

import (
	"fmt"
	"strings"

	"github.com/Thermoquad/ember/pkg/radio"
)

// FormatPacket formats a packet into a human-readable string
func FormatPacket(p *Packet) string {
	timestamp := p.timestamp.Format("15:04:05.000")
	msgType := FormatMessageType(p.Type())

	result := fmt.Sprintf("[%s] %s (0x%02X) tsn=%d len=%d\n", timestamp, msgType, p.Type(), p.tsn, p.length)

	if err := p.ParseError(); err != nil {
		return result + fmt.Sprintf("  (unparseable payload: %v)\n", err)
	}
	return result + FormatPayloadMap(p.Type(), p.PayloadMap())
}

// FormatMessageType returns the human-readable name for a message type
func FormatMessageType(msgType uint8) string {
	if msgType == MsgFrameIndication {
		return "FRAME_INDICATION"
	}
	name := commandName(msgType &^ ResponseFlag)
	if name == "" {
		return "UNKNOWN"
	}
	if msgType&ResponseFlag != 0 {
		return name + "_RESPONSE"
	}
	return name
}

func commandName(cmd uint8) string {
	switch cmd {
	case CmdInit:
		return "INIT"
	case CmdSetChannel:
		return "SET_CHANNEL"
	case CmdTransmit:
		return "TRANSMIT"
	case CmdBroadcast:
		return "BROADCAST"
	case CmdReceive:
		return "RECEIVE"
	case CmdDataRequest:
		return "DATA_REQUEST"
	case CmdGetInfo:
		return "GET_INFO"
	case CmdSetRetries:
		return "SET_RETRIES"
	case CmdTeardown:
		return "TEARDOWN"
	case CmdPing:
		return "PING"
	default:
		return ""
	}
}

// FormatPayloadMap formats the CBOR payload map based on message type
func FormatPayloadMap(msgType uint8, m map[int]interface{}) string {
	switch msgType {
	case CmdGetInfo, CmdTeardown, CmdPing:
		return "  (no payload)\n"

	case CmdInit:
		// 0 => pan, 1 => tx_power, 2 => sequence
		pan, _ := GetMapUint(m, 0)
		power, _ := GetMapInt(m, 1)
		seq, _ := GetMapUint(m, 2)
		return fmt.Sprintf("  PAN: 0x%04X, TX Power: %d dBm, Sequence: %d\n", pan, power, seq)

	case CmdSetChannel:
		ch, _ := GetMapUint(m, 0)
		return fmt.Sprintf("  Channel: %d\n", ch)

	case CmdTransmit:
		dst, _ := GetMapUint(m, 0)
		data, _ := GetMapBytes(m, 1)
		return fmt.Sprintf("  Destination: %016X, Data: %s\n", dst, formatBytes(data))

	case CmdBroadcast:
		data, _ := GetMapBytes(m, 1)
		return fmt.Sprintf("  Data: %s\n", formatBytes(data))

	case CmdReceive:
		enabled, _ := GetMapBool(m, 0)
		return fmt.Sprintf("  Enabled: %t\n", enabled)

	case CmdDataRequest:
		dst, _ := GetMapUint(m, 0)
		return fmt.Sprintf("  Destination: %016X\n", dst)

	case CmdSetRetries:
		retries, _ := GetMapUint(m, 0)
		return fmt.Sprintf("  Retries: %d\n", retries)

	case MsgFrameIndication:
		f, ok := FrameFromIndication(&Packet{msgType: msgType, payloadMap: m, parsed: true})
		if !ok {
			return "  (malformed indication)\n"
		}
		return fmt.Sprintf("  Source: %016X, Channel: %d, RSSI: %d dBm, Data: %s\n",
			f.SourceAddress, f.Channel, f.RSSI, formatBytes(f.Payload))
	}

	if msgType&ResponseFlag != 0 {
		return formatResponse(msgType&^ResponseFlag, m)
	}
	return fmt.Sprintf("  %v\n", m)
}

func formatResponse(cmd uint8, m map[int]interface{}) string {
	status, _ := GetMapUint(m, 0)
	result := fmt.Sprintf("  Status: %s", Status(status))

	switch cmd {
	case CmdDataRequest:
		r, _ := GetMapUint(m, 1)
		result += fmt.Sprintf(", Result: %s", radio.DataRequestResult(r))
	case CmdGetInfo:
		mac, _ := GetMapUint(m, 1)
		seq, _ := GetMapUint(m, 2)
		version, _ := GetMapString(m, 3)
		result += fmt.Sprintf(", MAC: %016X, Sequence: %d, Version: %s", mac, seq, version)
	case CmdTeardown:
		seq, _ := GetMapUint(m, 1)
		result += fmt.Sprintf(", Sequence: %d", seq)
	case CmdPing:
		uptime, _ := GetMapUint(m, 1)
		result += fmt.Sprintf(", Uptime: %s", FormatUptime(uptime))
	}
	return result + "\n"
}

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusNoAck:
		return "NO_ACK"
	case StatusInvalid:
		return "INVALID"
	case StatusBusy:
		return "BUSY"
	case StatusNotReady:
		return "NOT_READY"
	default:
		return fmt.Sprintf("UNKNOWN_0x%02X", uint8(s))
	}
}

func formatBytes(data []byte) string {
	const maxShown = 16
	if len(data) <= maxShown {
		return fmt.Sprintf("% X (%d bytes)", data, len(data))
	}
	return fmt.Sprintf("% X ... (%d bytes)", data[:maxShown], len(data))
}

// FormatUptime converts milliseconds to a human-readable duration
func FormatUptime(ms uint64) string {
	seconds := ms / 1000
	if seconds == 0 {
		return fmt.Sprintf("%d ms", ms)
	}

	const (
		secondsPerMinute = 60
		secondsPerHour   = 60 * secondsPerMinute
		secondsPerDay    = 24 * secondsPerHour
	)

	days := seconds / secondsPerDay
	seconds %= secondsPerDay
	hours := seconds / secondsPerHour
	seconds %= secondsPerHour
	minutes := seconds / secondsPerMinute
	seconds %= secondsPerMinute

	parts := []string{}
	for _, u := range []struct {
		n    uint64
		unit string
	}{{days, "day"}, {hours, "hour"}, {minutes, "minute"}, {seconds, "second"}} {
		switch {
		case u.n == 1:
			parts = append(parts, "1 "+u.unit)
		case u.n > 1:
			parts = append(parts, fmt.Sprintf("%d %ss", u.n, u.unit))
		}
	}

	if len(parts) == 1 {
		return parts[0]
	}
	return strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1]
}
