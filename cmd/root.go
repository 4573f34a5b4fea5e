// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/ember/pkg/observability"
)

var (
	// Node configuration
	configPath string
	storeSpec  string
	logLevel   string

	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Metrics endpoint
	metricsAddr string
)

// appConfig and logger are set up before any command runs
var (
	appConfig *Config
	logger    = zerolog.Nop()
)

var rootCmd = &cobra.Command{
	Use:   "ember",
	Short: "IEEE 802.15.4 sleeping node",
	Long: `Ember - A battery-powered IEEE 802.15.4 node that wakes, reports to its host
and goes back to sleep.

Each wake cycle finds the host (from persisted state or by scanning channels),
delivers one encrypted message, collects whatever the host has queued for the
node and, when told to, fetches new firmware over Wi-Fi.

The radio is an 802.15.4 co-processor reached over a serial port or a
WebSocket bridge:
  Serial:    --port /dev/ttyACM0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]

Encryption key and secret come from the config file or the EMBER_KEY and
EMBER_SECRET environment variables (hex). For WebSocket authentication the
password is read from EMBER_PASSWORD, or prompted interactively if not set.`,
	Version:           "0.3.0",
	PersistentPreRunE: setup,
	SilenceUsage:      true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Node configuration file (.toml, .yaml)")
	rootCmd.PersistentFlags().StringVar(&storeSpec, "store", "", "State store: memory, file:PATH or sqlite:PATH")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port of the radio co-processor")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL of a co-processor bridge (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9464)")
}

// setup loads the configuration, applies flag overrides and starts logging
func setup(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	cfg.ApplyEnv(os.Getenv)

	if cmd.Flags().Changed("store") {
		cfg.Store, err = ParseStoreSpec(storeSpec)
		if err != nil {
			return err
		}
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if metricsAddr != "" {
		cfg.Metrics.Addr = metricsAddr
	}

	level, err := observability.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger = observability.NewLogger("ember", level, os.Stderr)
	appConfig = cfg

	if cfg.Metrics.Addr != "" {
		startMetrics(cfg.Metrics.Addr)
	}
	return nil
}

// startMetrics serves /metrics in the background for the life of the process
func startMetrics(addr string) {
	observability.RegisterMetrics()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", addr).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server")
		}
	}()
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
