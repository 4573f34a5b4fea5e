// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/ember/pkg/gcm"
	"github.com/Thermoquad/ember/pkg/node"
	"github.com/Thermoquad/ember/pkg/radio"
	"github.com/Thermoquad/ember/pkg/rcp"
	"github.com/Thermoquad/ember/pkg/sim"
	"github.com/Thermoquad/ember/pkg/wire"
)

// Simulated addresses
const (
	simNodeMAC     = 0x00124B0001020304
	simHostAddress = 0x00124B00AABBCCDD
)

// simFlags configures the simulated host
type simFlags struct {
	rounds            int
	interval          time.Duration
	payload           string
	hostChannel       uint8
	moveTo            uint8
	responseDelay     time.Duration
	dropAcks          int
	ignoreDiscoveries int
	failDataRequests  bool
	offline           bool
	overLink          bool

	pendingTimestamp uint64
	pendingPayload   string
	pendingSpacing   time.Duration

	firmwareURL  string
	firmwareMD5  string
	firmwareSSID string
}

var simOpts simFlags

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run wake cycles against a simulated host (no hardware)",
	Long: `Run the node against an in-process simulated radio and host.

Every round is one wake: deliver --payload, then collect whatever the host has
queued. The host can be told to drop acknowledgements, ignore discovery
requests, move channel or push a firmware update, which makes every path of
the node reachable without a radio.

With --over-link the simulated radio sits behind a co-processor link server
and the node drives it through the same driver used for real hardware.

Without a key in the configuration a random key and secret are used for both
sides. The state store is in memory unless --store is given.`,
	Args: cobra.NoArgs,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	f := simulateCmd.Flags()
	f.IntVar(&simOpts.rounds, "rounds", 1, "Number of wake cycles")
	f.DurationVar(&simOpts.interval, "interval", 0, "Sleep between wake cycles")
	f.StringVar(&simOpts.payload, "payload", "reading", "Message sent each round")
	f.Uint8Var(&simOpts.hostChannel, "host-channel", 20, "Channel the host listens on")
	f.Uint8Var(&simOpts.moveTo, "move-to", 0, "Move the host to this channel after the first round")
	f.DurationVar(&simOpts.responseDelay, "response-delay", time.Millisecond, "Host reply latency")
	f.IntVar(&simOpts.dropAcks, "drop-acks", 0, "Unicasts the host leaves unacknowledged")
	f.IntVar(&simOpts.ignoreDiscoveries, "ignore-discoveries", 0, "Discovery requests the host ignores")
	f.BoolVar(&simOpts.failDataRequests, "fail-data-requests", false, "Data requests fail at the MAC layer")
	f.BoolVar(&simOpts.offline, "offline", false, "Host does not answer at all")
	f.BoolVar(&simOpts.overLink, "over-link", false, "Drive the radio through the co-processor link protocol")
	f.Uint64Var(&simOpts.pendingTimestamp, "pending-timestamp", 0, "Timestamp the host queues each round (0 for none)")
	f.StringVar(&simOpts.pendingPayload, "pending-payload", "", "Payload the host queues each round")
	f.DurationVar(&simOpts.pendingSpacing, "pending-spacing", 50*time.Millisecond, "Gap between queued frames")
	f.StringVar(&simOpts.firmwareURL, "firmware-url", "", "Push a firmware update from this URL on the first round")
	f.StringVar(&simOpts.firmwareMD5, "firmware-md5", "", "MD5 of the pushed image")
	f.StringVar(&simOpts.firmwareSSID, "firmware-ssid", "ember-lab", "Wi-Fi network named in the pushed update")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	o := simOpts
	if !radio.ValidChannel(o.hostChannel) {
		return fmt.Errorf("--host-channel %d out of range", o.hostChannel)
	}
	if o.moveTo != 0 && !radio.ValidChannel(o.moveTo) {
		return fmt.Errorf("--move-to %d out of range", o.moveTo)
	}
	payload, err := parsePayload(o.payload, false)
	if err != nil {
		return err
	}

	cfg, err := simulationConfig(*appConfig, cmd.Flags().Changed("store"))
	if err != nil {
		return err
	}
	key, _ := hex.DecodeString(cfg.Key)
	secret, _ := hex.DecodeString(cfg.Secret)
	cipher, err := gcm.New(key, secret)
	if err != nil {
		return err
	}

	log := logger
	host := sim.NewHost(simHostAddress, o.hostChannel, cipher, log.With().Str("component", "sim-host").Logger())
	host.SetResponseDelay(o.responseDelay)
	host.DropUnicasts(o.dropAcks)
	host.IgnoreDiscoveries(o.ignoreDiscoveries)
	host.FailDataRequests(o.failDataRequests)
	host.SetOffline(o.offline)

	r := sim.NewRadio(simNodeMAC)
	r.Attach(host)

	var transceiver radio.Transceiver = r
	var driver *rcp.Driver
	if o.overLink {
		driver, err = exportOverLink(r, log)
		if err != nil {
			return err
		}
		transceiver = driver
	}

	s, err := newSession(cfg, log, transceiver, sessionOptions{
		wifi: &loggingWifi{log: log.With().Str("component", "sim-wifi").Logger()},
		rebooter: node.RebooterFunc(func() {
			log.Info().Msg("reboot requested, simulation keeps running")
		}),
	})
	if err != nil {
		if driver != nil {
			driver.Close()
		}
		return err
	}
	s.driver = driver
	defer s.Close()

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Ember - Simulation\n")
	fmt.Fprintf(w, "Node %016X, host %016X on channel %d\n\n", uint64(simNodeMAC), uint64(simHostAddress), o.hostChannel)

	failed := 0
	for i := 1; i <= o.rounds; i++ {
		if i > 1 && o.interval > 0 {
			time.Sleep(o.interval)
		}
		queueRound(host, o, i)

		fmt.Fprintf(w, "Round %d/%d: ", i, o.rounds)
		ok := s.node.SendMessage(payload)
		printRound(w, s.node, ok)
		if !ok {
			failed++
		}

		if i == 1 && o.moveTo != 0 {
			host.MoveTo(o.moveTo)
			fmt.Fprintf(w, "Host moved to channel %d\n", o.moveTo)
		}
	}

	printSimulationSummary(w, o.rounds, failed, host, r)
	if driver != nil {
		stats := driver.Stats()
		fmt.Fprintf(w, "%s\n", &stats)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d rounds failed", failed, o.rounds)
	}
	return nil
}

// simulationConfig gives the simulation its own key and, unless a store was
// asked for, a throwaway store and boot state
func simulationConfig(cfg Config, keepStore bool) (*Config, error) {
	if cfg.Key == "" || cfg.Secret == "" {
		material := make([]byte, gcm.KeySize+gcm.SecretSize)
		if _, err := io.ReadFull(rand.Reader, material); err != nil {
			return nil, err
		}
		cfg.Key = hex.EncodeToString(material[:gcm.KeySize])
		cfg.Secret = hex.EncodeToString(material[gcm.KeySize:])
	}
	if !keepStore {
		cfg.Store = StoreConfig{Type: StoreMemory}
	}
	cfg.BootState = ""

	// Never install over the running binary
	if cfg.OTA.FirmwarePath == "" {
		cfg.OTA.FirmwarePath = filepath.Join(os.TempDir(), "ember-sim-firmware.bin")
	}
	return &cfg, nil
}

// queueRound loads the host with what it hands out on round i
func queueRound(h *sim.Host, o simFlags, round int) {
	var frames []wire.Frame
	if o.pendingTimestamp != 0 {
		frames = append(frames, wire.PendingTimestampResponse{Timestamp: o.pendingTimestamp + uint64(round-1)})
	}
	if o.pendingPayload != "" {
		frames = append(frames, wire.PendingPayloadResponse{Payload: []byte(o.pendingPayload)})
	}
	if len(frames) > 0 {
		h.Queue(o.pendingSpacing, frames...)
	}
	if round == 1 && o.firmwareURL != "" {
		h.QueueFirmware(o.pendingSpacing, 1, o.firmwareSSID, "simulated", o.firmwareURL, o.firmwareMD5)
	}
}

func printSimulationSummary(w io.Writer, rounds, failed int, h *sim.Host, r *sim.Radio) {
	fmt.Fprintf(w, "\n--- Simulation statistics ---\n")
	fmt.Fprintf(w, "%d rounds, %d delivered, %d failed\n", rounds, rounds-failed, failed)
	fmt.Fprintf(w, "Host: %d messages, %d discovery requests, %d data requests\n",
		len(h.Received()), h.DiscoveryRequests(), h.DataRequests())
	fmt.Fprintf(w, "Radio: %d power-ups, %d transmits, %d broadcasts, %d channel changes\n",
		r.Count(sim.OpInit), r.Count(sim.OpTransmit), r.Count(sim.OpBroadcast), r.Count(sim.OpSetChannel))
}

// exportOverLink serves r on one end of an in-memory pipe and opens a driver on the other
func exportOverLink(r radio.Transceiver, log zerolog.Logger) (*rcp.Driver, error) {
	hostEnd, coprocEnd := net.Pipe()
	server := rcp.NewServer(r, "ember-sim", log)
	go func() {
		if err := server.Serve(coprocEnd); err != nil {
			log.Debug().Err(err).Msg("link server stopped")
		}
	}()

	d, err := rcp.Open(hostEnd, rcp.Options{Logger: log})
	if err != nil {
		coprocEnd.Close()
		return nil, err
	}
	return d, nil
}

// loggingWifi stands in for NetworkManager in simulations
type loggingWifi struct {
	log zerolog.Logger
}

func (w *loggingWifi) Connect(hostname, ssid, password string, timeout time.Duration) error {
	w.log.Info().Str("hostname", hostname).Str("ssid", ssid).Dur("timeout", timeout).Msg("connect")
	return nil
}

func (w *loggingWifi) Disconnect() error {
	w.log.Info().Msg("disconnect")
	return nil
}
