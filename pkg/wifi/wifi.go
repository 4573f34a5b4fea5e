// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package wifi joins a Wi-Fi network through NetworkManager for the length of
// a firmware download.
package wifi

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/ember/pkg/node"
)

// NetworkManager D-Bus names
const (
	nmDest              = "org.freedesktop.NetworkManager"
	nmPath              = dbus.ObjectPath("/org/freedesktop/NetworkManager")
	nmIface             = "org.freedesktop.NetworkManager"
	nmDeviceType        = "org.freedesktop.NetworkManager.Device.DeviceType"
	nmActiveState       = "org.freedesktop.NetworkManager.Connection.Active.State"
	nmSettingsConnIface = "org.freedesktop.NetworkManager.Settings.Connection"
)

// NetworkManager enum values
const (
	deviceTypeWifi = 2

	activeStateActivating   = 1
	activeStateActivated    = 2
	activeStateDeactivating = 3
	activeStateDeactivated  = 4
)

// ProfileID names the temporary connection profile
const ProfileID = "ember-ota"

// DefaultPollInterval is how often the activation state is checked
const DefaultPollInterval = 250 * time.Millisecond

var (
	// ErrNoDevice is returned when no Wi-Fi device is available
	ErrNoDevice = errors.New("no wifi device")
	// ErrActivation is returned when the connection fails or times out
	ErrActivation = errors.New("wifi activation failed")
)

// busObject is the part of dbus.BusObject the connector uses
type busObject interface {
	Call(method string, flags dbus.Flags, args ...interface{}) *dbus.Call
	GetProperty(p string) (dbus.Variant, error)
}

// Connector is a node.WifiConnector backed by NetworkManager
type Connector struct {
	// Interface selects the device, e.g. "wlan0"; empty picks the first Wi-Fi device
	Interface    string
	PollInterval time.Duration

	log    zerolog.Logger
	object func(path dbus.ObjectPath) busObject

	mu       sync.Mutex
	active   dbus.ObjectPath
	settings dbus.ObjectPath
}

var _ node.WifiConnector = (*Connector)(nil)

// New connects to the system bus
func New(iface string, log zerolog.Logger) (*Connector, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("wifi: system bus: %w", err)
	}
	return newConnector(iface, log, func(p dbus.ObjectPath) busObject {
		return conn.Object(nmDest, p)
	}), nil
}

func newConnector(iface string, log zerolog.Logger, object func(dbus.ObjectPath) busObject) *Connector {
	return &Connector{
		Interface:    iface,
		PollInterval: DefaultPollInterval,
		log:          log.With().Str("component", "wifi").Logger(),
		object:       object,
	}
}

// Connect adds a temporary profile for ssid and waits until it is active.
// The DHCP request carries hostname.
func (c *Connector) Connect(hostname, ssid, password string, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	device, err := c.device()
	if err != nil {
		return err
	}

	settings := map[string]map[string]dbus.Variant{
		"connection": {
			"id":          dbus.MakeVariant(ProfileID),
			"type":        dbus.MakeVariant("802-11-wireless"),
			"autoconnect": dbus.MakeVariant(false),
		},
		"802-11-wireless": {
			"ssid": dbus.MakeVariant([]byte(ssid)),
			"mode": dbus.MakeVariant("infrastructure"),
		},
		"802-11-wireless-security": {
			"key-mgmt": dbus.MakeVariant("wpa-psk"),
			"psk":      dbus.MakeVariant(password),
		},
		"ipv4": {
			"method":             dbus.MakeVariant("auto"),
			"dhcp-hostname":      dbus.MakeVariant(hostname),
			"dhcp-send-hostname": dbus.MakeVariant(true),
		},
		"ipv6": {
			"method": dbus.MakeVariant("ignore"),
		},
	}

	var settingsPath, activePath dbus.ObjectPath
	call := c.object(nmPath).Call(nmIface+".AddAndActivateConnection", 0, settings, device, dbus.ObjectPath("/"))
	if err := call.Store(&settingsPath, &activePath); err != nil {
		return fmt.Errorf("wifi: add connection: %w", err)
	}
	c.settings, c.active = settingsPath, activePath
	c.log.Info().Str("ssid", ssid).Str("hostname", hostname).Str("device", string(device)).Msg("activating")

	return c.waitActivated(timeout)
}

func (c *Connector) waitActivated(timeout time.Duration) error {
	poll := c.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	deadline := time.Now().Add(timeout)
	active := c.object(c.active)

	for {
		v, err := active.GetProperty(nmActiveState)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrActivation, err)
		}
		state, _ := v.Value().(uint32)
		switch state {
		case activeStateActivated:
			c.log.Info().Msg("connected")
			return nil
		case activeStateDeactivating, activeStateDeactivated:
			return fmt.Errorf("%w: connection deactivated", ErrActivation)
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w: not active after %s", ErrActivation, timeout)
		}
		time.Sleep(poll)
	}
}

// device resolves the configured interface or the first Wi-Fi device
func (c *Connector) device() (dbus.ObjectPath, error) {
	nm := c.object(nmPath)

	if c.Interface != "" {
		var path dbus.ObjectPath
		if err := nm.Call(nmIface+".GetDeviceByIpIface", 0, c.Interface).Store(&path); err != nil {
			return "", fmt.Errorf("%w: %s: %w", ErrNoDevice, c.Interface, err)
		}
		return path, nil
	}

	var devices []dbus.ObjectPath
	if err := nm.Call(nmIface+".GetDevices", 0).Store(&devices); err != nil {
		return "", fmt.Errorf("wifi: list devices: %w", err)
	}
	for _, d := range devices {
		v, err := c.object(d).GetProperty(nmDeviceType)
		if err != nil {
			continue
		}
		if t, ok := v.Value().(uint32); ok && t == deviceTypeWifi {
			return d, nil
		}
	}
	return "", ErrNoDevice
}

// Disconnect deactivates and deletes the profile added by Connect. It is a
// no-op when nothing was added.
func (c *Connector) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	if c.active != "" {
		if err := c.object(nmPath).Call(nmIface+".DeactivateConnection", 0, c.active).Err; err != nil {
			errs = append(errs, fmt.Errorf("wifi: deactivate: %w", err))
		}
	}
	if c.settings != "" {
		if err := c.object(c.settings).Call(nmSettingsConnIface+".Delete", 0).Err; err != nil {
			errs = append(errs, fmt.Errorf("wifi: delete profile: %w", err))
		}
	}
	if c.active != "" || c.settings != "" {
		c.log.Info().Msg("disconnected")
	}
	c.active, c.settings = "", ""
	return errors.Join(errs...)
}
