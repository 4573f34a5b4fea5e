// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rcp

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/ember/pkg/radio"
)

// StatusError is returned when the co-processor rejects a command
type StatusError struct {
	Command uint8
	Status  Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s rejected: %s", FormatMessageType(e.Command), e.Status)
}

// Info describes the attached co-processor
type Info struct {
	MAC      uint64
	Sequence uint8
	Version  string
}

// Options configures a Driver
type Options struct {
	// Timeout bounds each command; DefaultTimeout when zero
	Timeout time.Duration
	Logger  zerolog.Logger
	// OnPacket is called on the read loop for every packet or decode error,
	// e.g. to mirror link traffic into a log view
	OnPacket func(p *Packet, err error)
}

// Driver is a radio.Transceiver backed by a co-processor link
type Driver struct {
	rw       io.ReadWriteCloser
	log      zerolog.Logger
	timeout  time.Duration
	onPacket func(*Packet, error)

	writeMu sync.Mutex

	mu       sync.Mutex
	tsn      uint8
	pending  map[uint8]chan *Packet
	handler  radio.Handler
	stats    *Statistics
	mac      uint64
	sequence uint8
	err      error

	done      chan struct{}
	closeOnce sync.Once
}

var _ radio.Transceiver = (*Driver)(nil)

// Open starts the read loop on rw and queries the co-processor for its
// address. The driver owns rw from here on.
func Open(rw io.ReadWriteCloser, opts Options) (*Driver, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	d := &Driver{
		rw:       rw,
		log:      opts.Logger.With().Str("component", "rcp").Logger(),
		timeout:  timeout,
		onPacket: opts.OnPacket,
		pending:  make(map[uint8]chan *Packet),
		stats:    NewStatistics(),
		done:     make(chan struct{}),
	}
	go d.readLoop()

	info, err := d.Info()
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("query co-processor: %w", err)
	}
	d.mu.Lock()
	d.mac = info.MAC
	d.sequence = info.Sequence
	d.mu.Unlock()

	d.log.Info().Str("mac", fmt.Sprintf("%016X", info.MAC)).Str("version", info.Version).Msg("co-processor attached")
	return d, nil
}

// Close stops the read loop and closes the link. Outstanding commands fail with ErrClosed.
func (d *Driver) Close() error {
	var err error
	d.closeOnce.Do(func() {
		d.mu.Lock()
		if d.err == nil {
			d.err = ErrClosed
		}
		d.mu.Unlock()
		close(d.done)
		err = d.rw.Close()
	})
	return err
}

// Done is closed when the link is closed or has failed
func (d *Driver) Done() <-chan struct{} {
	return d.done
}

// Err returns why the link stopped, or nil while it is running
func (d *Driver) Err() error {
	select {
	case <-d.done:
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.err
	default:
		return nil
	}
}

// Stats returns a snapshot of the link statistics
func (d *Driver) Stats() Statistics {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := *d.stats
	s.CalculateRates()
	return s
}

func (d *Driver) readLoop() {
	dec := NewDecoder()
	buf := make([]byte, 256)
	for {
		n, err := d.rw.Read(buf)
		for _, b := range buf[:n] {
			p, derr := dec.DecodeByte(b)
			if p == nil && derr == nil {
				continue
			}
			d.record(p, derr)
			if derr != nil {
				d.log.Debug().Err(derr).Msg("decode")
				continue
			}
			d.dispatch(p)
		}
		if err != nil {
			d.fail(err)
			return
		}
	}
}

func (d *Driver) record(p *Packet, err error) {
	d.mu.Lock()
	d.stats.Update(p, err)
	d.mu.Unlock()
	if d.onPacket != nil {
		d.onPacket(p, err)
	}
}

func (d *Driver) dispatch(p *Packet) {
	if err := p.ParseError(); err != nil {
		d.log.Warn().Err(err).Uint8("tsn", p.TSN()).Msg("unparseable packet")
		return
	}

	switch {
	case p.Type() == MsgFrameIndication:
		f, ok := FrameFromIndication(p)
		if !ok {
			d.log.Warn().Msg("malformed frame indication")
			return
		}
		d.mu.Lock()
		h := d.handler
		d.mu.Unlock()
		if h != nil {
			h(f)
		}

	case p.IsResponse():
		d.mu.Lock()
		ch, ok := d.pending[p.TSN()]
		if ok {
			delete(d.pending, p.TSN())
		}
		d.mu.Unlock()
		if !ok {
			d.log.Warn().Uint8("tsn", p.TSN()).Str("type", FormatMessageType(p.Type())).Msg("response without request")
			return
		}
		ch <- p

	default:
		d.log.Warn().Str("type", FormatMessageType(p.Type())).Msg("unexpected packet")
	}
}

func (d *Driver) fail(err error) {
	if errors.Is(err, io.EOF) {
		err = ErrClosed
	} else {
		err = fmt.Errorf("%w: %w", ErrClosed, err)
	}
	d.mu.Lock()
	if d.err == nil {
		d.err = err
	}
	d.mu.Unlock()
	d.closeOnce.Do(func() {
		close(d.done)
		d.rw.Close()
	})
	d.log.Debug().Err(err).Msg("read loop stopped")
}

// request sends cmd and waits for the matching response
func (d *Driver) request(cmd *Packet) (*Packet, error) {
	select {
	case <-d.done:
		return nil, d.Err()
	default:
	}

	d.mu.Lock()
	d.tsn++
	if d.tsn == IndicationTSN {
		d.tsn++
	}
	tsn := d.tsn
	ch := make(chan *Packet, 1)
	d.pending[tsn] = ch
	d.stats.Requests++
	d.mu.Unlock()

	data, err := EncodePacketFromValues(tsn, cmd.Type(), cmd.PayloadMap())
	if err != nil {
		d.forget(tsn)
		return nil, err
	}

	d.writeMu.Lock()
	_, err = d.rw.Write(data)
	d.writeMu.Unlock()
	if err != nil {
		d.forget(tsn)
		return nil, fmt.Errorf("write %s: %w", FormatMessageType(cmd.Type()), err)
	}

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if resp.Command() != cmd.Type() {
			return nil, fmt.Errorf("%s answered with %s", FormatMessageType(cmd.Type()), FormatMessageType(resp.Type()))
		}
		return resp, nil
	case <-timer.C:
		d.forget(tsn)
		d.mu.Lock()
		d.stats.Timeouts++
		d.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", FormatMessageType(cmd.Type()), ErrTimeout)
	case <-d.done:
		return nil, d.Err()
	}
}

func (d *Driver) forget(tsn uint8) {
	d.mu.Lock()
	delete(d.pending, tsn)
	d.mu.Unlock()
}

// call sends cmd and maps the response status to an error
func (d *Driver) call(cmd *Packet) (map[int]interface{}, error) {
	resp, err := d.request(cmd)
	if err != nil {
		return nil, err
	}
	switch status := resp.Status(); status {
	case StatusOK:
		return resp.PayloadMap(), nil
	case StatusNoAck:
		return resp.PayloadMap(), radio.ErrNoAck
	default:
		return resp.PayloadMap(), &StatusError{Command: cmd.Type(), Status: status}
	}
}

func (d *Driver) Initialize(cfg radio.Config) error {
	_, err := d.call(NewInit(cfg))
	return err
}

func (d *Driver) SetChannel(channel uint8) error {
	if !radio.ValidChannel(channel) {
		return fmt.Errorf("invalid channel %d", channel)
	}
	_, err := d.call(NewSetChannel(channel))
	return err
}

func (d *Driver) Transmit(dst uint64, data []byte) error {
	if err := radio.CheckFrameSize(data); err != nil {
		return err
	}
	_, err := d.call(NewTransmit(dst, data))
	return err
}

func (d *Driver) Broadcast(data []byte) error {
	if err := radio.CheckFrameSize(data); err != nil {
		return err
	}
	_, err := d.call(NewBroadcast(data))
	return err
}

// Receive installs h before enabling so no indication is missed
func (d *Driver) Receive(h radio.Handler) error {
	d.mu.Lock()
	d.handler = h
	d.mu.Unlock()
	_, err := d.call(NewReceive(h != nil))
	return err
}

func (d *Driver) DataRequest(dst uint64) (radio.DataRequestResult, error) {
	m, err := d.call(NewDataRequest(dst))
	if err != nil {
		return radio.DataRequestFailure, err
	}
	r, ok := GetMapUint(m, 1)
	if !ok || r > uint64(radio.DataRequestDataAvailable) {
		return radio.DataRequestFailure, fmt.Errorf("data request: bad result %v", m[1])
	}
	return radio.DataRequestResult(r), nil
}

// DeviceMACAddress returns the address read when the link was opened
func (d *Driver) DeviceMACAddress() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mac
}

// NextSequenceNumber asks the co-processor, falling back to the last known value
func (d *Driver) NextSequenceNumber() uint8 {
	info, err := d.Info()
	if err != nil {
		d.log.Warn().Err(err).Msg("read sequence number")
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.sequence
	}
	d.mu.Lock()
	d.sequence = info.Sequence
	d.mu.Unlock()
	return info.Sequence
}

func (d *Driver) SetFrameRetries(n uint8) error {
	_, err := d.call(NewSetRetries(n))
	return err
}

func (d *Driver) Teardown() error {
	d.mu.Lock()
	d.handler = nil
	d.mu.Unlock()

	m, err := d.call(NewTeardown())
	if err != nil {
		return err
	}
	if seq, ok := GetMapUint(m, 1); ok {
		d.mu.Lock()
		d.sequence = uint8(seq)
		d.mu.Unlock()
	}
	return nil
}

// Info queries the co-processor identity and sequence counter
func (d *Driver) Info() (Info, error) {
	m, err := d.call(NewGetInfo())
	if err != nil {
		return Info{}, err
	}
	mac, _ := GetMapUint(m, 1)
	seq, _ := GetMapUint(m, 2)
	version, _ := GetMapString(m, 3)
	return Info{MAC: mac, Sequence: uint8(seq), Version: version}, nil
}

// Ping measures the round trip and returns the co-processor uptime
func (d *Driver) Ping() (uptime, rtt time.Duration, err error) {
	start := time.Now()
	m, err := d.call(NewPing())
	if err != nil {
		return 0, 0, err
	}
	rtt = time.Since(start)
	ms, _ := GetMapUint(m, 1)
	return time.Duration(ms) * time.Millisecond, rtt, nil
}
