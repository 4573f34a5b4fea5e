// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package node

import (
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/ember/pkg/observability"
	"github.com/Thermoquad/ember/pkg/radio"
	"github.com/Thermoquad/ember/pkg/wire"
)

// discover scans for a host. On success the host is persisted, the radio is
// on the host's channel and n.host is set. Receive is disabled on return.
func (n *Node) discover(log zerolog.Logger) bool {
	policy := n.cfg.Discovery
	log.Info().
		Int("channels", len(policy.Channels)).
		Int("attempts", policy.Attempts).
		Dur("budget", policy.Budget()).
		Msg("discovering host")

	found := newSignal[HostState]()
	// The first valid response is the host; it alone is persisted
	var claimed atomic.Bool
	handler := func(f radio.Frame) {
		frame, ok := n.open(log, f)
		if !ok {
			return
		}
		resp, ok := frame.(wire.DiscoveryResponse)
		if !ok {
			log.Warn().Stringer("kind", frame.Kind()).Msg("ignoring frame during discovery")
			return
		}
		if !radio.ValidChannel(resp.Channel) {
			log.Warn().Uint8("channel", resp.Channel).Msg("ignoring discovery response with invalid channel")
			return
		}

		host := HostState{Channel: resp.Channel, Address: f.SourceAddress}
		if !claimed.CompareAndSwap(false, true) {
			log.Warn().Uint8("channel", host.Channel).Str("host", hexAddr(host.Address)).Msg("ignoring additional discovery response")
			return
		}
		if err := saveHostState(n.store, host); err != nil {
			log.Warn().Err(err).Msg("could not persist discovered host")
		}
		log.Info().Uint8("channel", host.Channel).Str("host", hexAddr(host.Address)).Msg("discovery response")
		found.notify(host)
	}

	if err := n.radio.Receive(handler); err != nil {
		log.Error().Err(err).Msg("enable receive")
		observability.RecordDiscovery(false)
		return false
	}
	defer func() {
		if err := n.radio.Receive(nil); err != nil {
			log.Warn().Err(err).Msg("disable receive")
		}
	}()

	if err := n.radio.SetFrameRetries(policy.FrameRetries); err != nil {
		log.Warn().Err(err).Msg("set frame retries")
	}

	request, err := wire.Encode(wire.DiscoveryRequest{})
	if err != nil {
		log.Error().Err(err).Msg("encode discovery request")
		observability.RecordDiscovery(false)
		return false
	}

	host, ok := n.scan(log, policy, request, found)
	if !ok {
		log.Warn().Msg("no discovery response on any channel, waiting for stragglers")
		host, ok = found.wait(policy.FinalWait)
	}
	if ok {
		if err := n.radio.SetChannel(host.Channel); err != nil {
			log.Error().Err(err).Uint8("channel", host.Channel).Msg("select discovered channel")
			ok = false
		}
	}

	observability.RecordDiscovery(ok)
	if !ok {
		log.Warn().Msg("never received a discovery response")
		return false
	}
	n.host = host
	return true
}

// scan broadcasts the request on every channel of the policy until a
// response is signalled
func (n *Node) scan(log zerolog.Logger, policy DiscoveryPolicy, request []byte, found *signal[HostState]) (HostState, bool) {
	for _, ch := range policy.Channels {
		log.Debug().Uint8("channel", ch).Msg("discovering on channel")
		for attempt := 1; attempt <= policy.Attempts; attempt++ {
			if err := n.radio.SetChannel(ch); err != nil {
				log.Warn().Err(err).Uint8("channel", ch).Msg("select channel")
				break
			}
			sealed, err := n.cipher.Seal(request)
			if err != nil {
				log.Error().Err(err).Msg("encrypt discovery request")
				return HostState{}, false
			}
			// Broadcasts are never acknowledged; errors only mean the frame did not leave
			if err := n.radio.Broadcast(sealed); err != nil {
				log.Debug().Err(err).Uint8("channel", ch).Msg("broadcast")
			}
			if host, ok := found.wait(policy.AttemptWait); ok {
				return host, true
			}
		}
	}
	return HostState{}, false
}
