// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rcp

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/ember/pkg/radio"
)

// Server is the co-processor side of the link. It executes commands on a
// local transceiver and forwards received frames as indications, so any
// radio.Transceiver can be exported over a serial or WebSocket bridge.
type Server struct {
	radio   radio.Transceiver
	version string
	log     zerolog.Logger
	start   time.Time

	writeMu sync.Mutex
	w       io.Writer
}

// NewServer creates a server for r reporting version in GET_INFO
func NewServer(r radio.Transceiver, version string, log zerolog.Logger) *Server {
	return &Server{
		radio:   r,
		version: version,
		log:     log.With().Str("component", "rcp-server").Logger(),
		start:   time.Now(),
	}
}

// Serve handles commands from rw until it fails. Receive is disabled on return.
func (s *Server) Serve(rw io.ReadWriter) error {
	s.writeMu.Lock()
	s.w = rw
	s.writeMu.Unlock()
	defer func() {
		if err := s.radio.Receive(nil); err != nil {
			s.log.Debug().Err(err).Msg("disable receive")
		}
	}()

	dec := NewDecoder()
	buf := make([]byte, 256)
	for {
		n, err := rw.Read(buf)
		for _, b := range buf[:n] {
			p, derr := dec.DecodeByte(b)
			if derr != nil {
				s.log.Warn().Err(derr).Msg("decode")
				continue
			}
			if p != nil {
				s.handle(p)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func (s *Server) handle(p *Packet) {
	if err := p.ParseError(); err != nil {
		s.log.Warn().Err(err).Msg("unparseable command")
		s.respond(p.TSN(), p.Type(), StatusInvalid, nil)
		return
	}

	m := p.PayloadMap()
	var (
		err    error
		fields map[int]interface{}
	)

	switch p.Type() {
	case CmdInit:
		pan, _ := GetMapUint(m, 0)
		power, _ := GetMapInt(m, 1)
		seq, _ := GetMapUint(m, 2)
		err = s.radio.Initialize(radio.Config{PANID: uint16(pan), TxPower: int8(power), SequenceNumber: uint8(seq)})

	case CmdSetChannel:
		ch, _ := GetMapUint(m, 0)
		err = s.radio.SetChannel(uint8(ch))

	case CmdTransmit:
		dst, _ := GetMapUint(m, 0)
		data, _ := GetMapBytes(m, 1)
		err = s.radio.Transmit(dst, data)

	case CmdBroadcast:
		data, _ := GetMapBytes(m, 1)
		err = s.radio.Broadcast(data)

	case CmdReceive:
		enabled, _ := GetMapBool(m, 0)
		if enabled {
			err = s.radio.Receive(s.indicate)
		} else {
			err = s.radio.Receive(nil)
		}

	case CmdDataRequest:
		dst, _ := GetMapUint(m, 0)
		var result radio.DataRequestResult
		result, err = s.radio.DataRequest(dst)
		fields = map[int]interface{}{1: uint64(result)}

	case CmdGetInfo:
		fields = map[int]interface{}{
			1: s.radio.DeviceMACAddress(),
			2: uint64(s.radio.NextSequenceNumber()),
			3: s.version,
		}

	case CmdSetRetries:
		n, _ := GetMapUint(m, 0)
		err = s.radio.SetFrameRetries(uint8(n))

	case CmdTeardown:
		seq := s.radio.NextSequenceNumber()
		err = s.radio.Teardown()
		fields = map[int]interface{}{1: uint64(seq)}

	case CmdPing:
		fields = map[int]interface{}{1: uint64(time.Since(s.start).Milliseconds())}

	default:
		s.log.Warn().Str("type", FormatMessageType(p.Type())).Msg("unknown command")
		s.respond(p.TSN(), p.Type(), StatusInvalid, nil)
		return
	}

	status := StatusOK
	switch {
	case err == nil:
	case errors.Is(err, radio.ErrNoAck):
		status = StatusNoAck
	default:
		s.log.Debug().Err(err).Str("cmd", FormatMessageType(p.Type())).Msg("command failed")
		status = StatusInvalid
	}
	s.respond(p.TSN(), p.Type(), status, fields)
}

func (s *Server) indicate(f radio.Frame) {
	s.send(NewFrameIndication(f))
}

func (s *Server) respond(tsn, cmd uint8, status Status, fields map[int]interface{}) {
	s.send(NewResponse(tsn, cmd, status, fields))
}

func (s *Server) send(p *Packet) {
	data, err := EncodePacketFromValues(p.TSN(), p.Type(), p.PayloadMap())
	if err != nil {
		s.log.Error().Err(err).Str("type", FormatMessageType(p.Type())).Msg("encode")
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.w.Write(data); err != nil {
		s.log.Debug().Err(err).Msg("write")
	}
}
