// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/ember/pkg/node"
	"github.com/Thermoquad/ember/pkg/ota"
	"github.com/Thermoquad/ember/pkg/radio"
	"github.com/Thermoquad/ember/pkg/rcp"
	"github.com/Thermoquad/ember/pkg/store"
	"github.com/Thermoquad/ember/pkg/wifi"
)

// session is one process lifetime of the node: its link, store and boot
// state. Close persists the boot state and releases everything.
type session struct {
	cfg      *Config
	log      zerolog.Logger
	connInfo string

	driver *rcp.Driver

	store      node.Store
	closeStore func() error

	node *node.Node
	boot *node.BootState

	closeOnce   sync.Once
	closeErr    error
	releaseOnce sync.Once
	releaseErr  error
}

// openSession connects to the co-processor named by the flags and builds a node on it
func openSession(cfg *Config, log zerolog.Logger, onPacket func(*rcp.Packet, error)) (*session, error) {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return nil, err
	}

	driver, err := rcp.Open(conn, rcp.Options{Logger: log, OnPacket: onPacket})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("radio co-processor on %s: %w", connInfo, err)
	}
	log.Info().Str("link", connInfo).Str("mac", fmt.Sprintf("%016X", driver.DeviceMACAddress())).Msg("co-processor ready")

	s, err := newSession(cfg, log, driver, sessionOptions{})
	if err != nil {
		driver.Close()
		return nil, err
	}
	s.driver, s.connInfo = driver, connInfo
	return s, nil
}

// sessionOptions replace the real collaborators, e.g. for simulation
type sessionOptions struct {
	wifi     node.WifiConnector
	rebooter node.Rebooter
}

// newSession builds the node on an already open transceiver
func newSession(cfg *Config, log zerolog.Logger, r radio.Transceiver, opts sessionOptions) (*session, error) {
	nodeCfg, err := cfg.NodeConfig()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	s := &session{cfg: cfg, log: log}
	s.store, s.closeStore, err = openStore(cfg.Store, log)
	if err != nil {
		return nil, err
	}

	updater, err := newUpdater(cfg, log)
	if err != nil {
		s.closeStore()
		return nil, err
	}

	w := opts.wifi
	if w == nil && cfg.Wifi.Enabled {
		c, err := wifi.New(cfg.Wifi.Interface, log)
		if err != nil {
			// Messages still flow without Wi-Fi; only updates fail
			log.Warn().Err(err).Msg("wifi unavailable, firmware updates disabled")
		} else {
			w = c
		}
	}

	rebooter := opts.rebooter
	if rebooter == nil {
		rebooter = execRebooter(log, s.beforeReboot)
	}
	s.boot = loadBootState(cfg.BootState, log)

	s.node, err = node.New(nodeCfg, node.Options{
		Radio:    r,
		Store:    s.store,
		Boot:     s.boot,
		Wifi:     w,
		Updater:  updater,
		Rebooter: rebooter,
		Logger:   log,
	})
	if err != nil {
		s.closeStore()
		return nil, err
	}
	return s, nil
}

// openStore opens the configured state store
func openStore(cfg StoreConfig, log zerolog.Logger) (node.Store, func() error, error) {
	nop := func() error { return nil }

	switch cfg.Type {
	case StoreMemory:
		return store.NewMemory(), nop, nil
	case StoreFile, "":
		f, err := store.OpenFile(cfg.Path, store.DefaultNamespace)
		if err != nil {
			return nil, nil, err
		}
		return f, nop, nil
	case StoreSQLite:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
			return nil, nil, err
		}
		db, err := store.OpenSQLite(ctx, cfg.Path, store.DefaultNamespace, log)
		if err != nil {
			return nil, nil, err
		}
		return db, db.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}

// newUpdater installs over the running executable unless configured otherwise
func newUpdater(cfg *Config, log zerolog.Logger) (*ota.Updater, error) {
	timeout, err := cfg.OTATimeout()
	if err != nil {
		return nil, err
	}
	firmware := cfg.OTA.FirmwarePath
	if firmware == "" {
		if firmware, err = os.Executable(); err != nil {
			return nil, fmt.Errorf("locate executable: %w", err)
		}
	}
	return &ota.Updater{
		FirmwarePath:   firmware,
		FilesystemPath: cfg.OTA.FilesystemPath,
		Timeout:        timeout,
		Log:            log.With().Str("component", "ota").Logger(),
	}, nil
}

// Close tears the radio down, saves the boot state and closes the link and store
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.node.Teardown()
		s.closeErr = errors.Join(s.saveBoot(), s.release())
	})
	return s.closeErr
}

// beforeReboot runs on the node's goroutine after it has torn the radio
// down, so the boot state is current and the node must not be called
func (s *session) beforeReboot() {
	if err := errors.Join(s.saveBoot(), s.release()); err != nil {
		s.log.Warn().Err(err).Msg("shutdown before reboot")
	}
}

func (s *session) saveBoot() error {
	if err := saveBootState(s.cfg.BootState, *s.boot); err != nil {
		return fmt.Errorf("save boot state: %w", err)
	}
	return nil
}

// release closes the link and the store
func (s *session) release() error {
	s.releaseOnce.Do(func() {
		var errs []error
		if s.driver != nil {
			if err := s.driver.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if err := s.closeStore(); err != nil {
			errs = append(errs, err)
		}
		s.releaseErr = errors.Join(errs...)
	})
	return s.releaseErr
}
