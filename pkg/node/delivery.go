// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package node

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/ember/pkg/observability"
	"github.com/Thermoquad/ember/pkg/wire"
)

// MaxAttempts is the number of unicast attempts per SendMessage
const MaxAttempts = 3

// deliver runs one round:
//
//	attempt 1 -> ok: request data | fail: backoff, attempt 2
//	attempt 2 -> ok: request data | fail: rediscover
//	rediscover -> ok: attempt 3 -> request data or fail | fail: fail
//
// The radio is torn down on every exit path.
func (n *Node) deliver(log zerolog.Logger, payload []byte) bool {
	message, err := wire.Encode(wire.Message{FirmwareVersion: n.cfg.FirmwareVersion, Payload: payload})
	if err != nil {
		log.Error().Err(err).Msg("rejecting message")
		return false
	}

	if err := n.powerUp(log); err != nil {
		log.Error().Err(err).Msg("radio unavailable")
		return false
	}
	defer n.teardown(log)

	host, ok := LoadHostState(n.store)
	if ok {
		if err := n.radio.SetChannel(host.Channel); err != nil {
			log.Warn().Err(err).Uint8("channel", host.Channel).Msg("cannot select persisted channel")
			ok = false
		} else {
			n.host = host
			log.Info().Uint8("channel", host.Channel).Str("host", hexAddr(host.Address)).Msg("using persisted host")
		}
	} else {
		log.Info().Msg("no persisted host")
	}

	if !ok && !n.discover(log) {
		log.Warn().Msg("host discovery failed")
		return false
	}

	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		switch attempt {
		case 2:
			time.Sleep(n.cfg.RetryBackoff)
		case 3:
			// Two misses in a row: assume the host moved or went away
			if !n.discover(log) {
				log.Warn().Msg("host discovery failed")
				return false
			}
		}

		if n.transmit(log, attempt, message) {
			collected := n.requestData(log)
			if !collected {
				log.Warn().Msg("data request failed")
			}
			return collected
		}
	}

	log.Warn().Int("attempts", MaxAttempts).Msg("message not delivered")
	return false
}

// transmit encrypts the message afresh and unicasts it to the host
func (n *Node) transmit(log zerolog.Logger, attempt int, message []byte) bool {
	sealed, err := n.cipher.Seal(message)
	if err != nil {
		log.Error().Err(err).Msg("encrypt message")
		observability.RecordTransmit(attempt, false)
		return false
	}

	err = n.radio.Transmit(n.host.Address, sealed)
	ok := err == nil
	observability.RecordTransmit(attempt, ok)

	if ok {
		log.Info().Int("attempt", attempt).Msg("message acknowledged")
	} else {
		log.Warn().Err(err).Int("attempt", attempt).Str("host", hexAddr(n.host.Address)).Msg("message not acknowledged")
	}
	return ok
}
