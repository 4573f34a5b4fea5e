// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package node

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/ember/pkg/observability"
)

// updateFirmware hands the device over from the radio to Wi-Fi, flashes the
// described image and lets the hook decide on a reboot
func (n *Node) updateFirmware(log zerolog.Logger, d FirmwareDescriptor) bool {
	log.Info().
		Uint32("identifier", d.Identifier).
		Str("ssid", d.SSID).
		Int("password_len", len(d.Password)).
		Str("md5", d.MD5).
		Str("url", d.URL).
		Msg("performing firmware update")

	// The radio and Wi-Fi never run together
	n.teardown(log)

	ok := n.flash(log, d)
	observability.RecordFirmwareUpdate(ok)

	reboot := ok
	if hook := n.firmwareHook(); hook != nil {
		reboot = hook(ok)
	}
	if !reboot {
		log.Info().Bool("ok", ok).Msg("firmware update finished, not rebooting")
		return ok
	}
	if n.rebooter == nil {
		log.Warn().Msg("reboot requested but no rebooter configured")
		return ok
	}

	log.Info().Bool("ok", ok).Dur("grace", n.cfg.RebootGrace).Msg("firmware update finished, rebooting")
	time.Sleep(n.cfg.RebootGrace)
	n.rebooter.Reboot()
	return ok
}

// flash connects, downloads and disconnects. The network is released before
// returning on every path.
func (n *Node) flash(log zerolog.Logger, d FirmwareDescriptor) bool {
	if n.wifi == nil || n.updater == nil {
		log.Error().Msg("firmware update needs a wifi connector and an updater")
		return false
	}

	hostname := Hostname(n.radio.DeviceMACAddress())
	if err := n.wifi.Connect(hostname, d.SSID, d.Password, n.cfg.WifiTimeout); err != nil {
		log.Warn().Err(err).Str("ssid", d.SSID).Msg("unable to connect to wifi, firmware update aborted")
		n.disconnect(log)
		return false
	}
	defer n.disconnect(log)

	log.Info().Str("hostname", hostname).Str("url", d.URL).Msg("downloading firmware")
	if err := n.updater.UpdateFrom(d.URL, FlashFirmware, d.MD5); err != nil {
		log.Warn().Err(err).Msg("firmware download failed")
		return false
	}
	log.Info().Msg("firmware written")
	return true
}

func (n *Node) disconnect(log zerolog.Logger) {
	if err := n.wifi.Disconnect(); err != nil {
		log.Warn().Err(err).Msg("wifi disconnect")
	}
}
