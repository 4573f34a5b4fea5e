// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rcp_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/ember/pkg/gcm"
	"github.com/Thermoquad/ember/pkg/node"
	"github.com/Thermoquad/ember/pkg/radio"
	"github.com/Thermoquad/ember/pkg/rcp"
	"github.com/Thermoquad/ember/pkg/sim"
	"github.com/Thermoquad/ember/pkg/store"
	"github.com/Thermoquad/ember/pkg/wire"
)

const (
	nodeMAC  = 0x00124B0001020304
	hostAddr = 0x00124B00AABBCCDD
)

var (
	testKey    = []byte("0123456789ABCDEF")
	testSecret = []byte("01234567")
)

type link struct {
	driver *rcp.Driver
	radio  *sim.Radio
	host   *sim.Host
	cipher *gcm.Cipher
	served chan error
}

// newLink exports a simulated radio through an rcp.Server and opens a
// driver on the other end of an in-memory pipe
func newLink(t *testing.T, hostChannel uint8) *link {
	t.Helper()

	c, err := gcm.New(testKey, testSecret)
	if err != nil {
		t.Fatal(err)
	}
	l := &link{
		radio:  sim.NewRadio(nodeMAC),
		host:   sim.NewHost(hostAddr, hostChannel, c, zerolog.Nop()),
		cipher: c,
		served: make(chan error, 1),
	}
	l.radio.Attach(l.host)

	hostEnd, coprocEnd := net.Pipe()
	server := rcp.NewServer(l.radio, "sim-1.0", zerolog.Nop())
	go func() { l.served <- server.Serve(coprocEnd) }()

	l.driver, err = rcp.Open(hostEnd, rcp.Options{Timeout: time.Second, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		l.driver.Close()
		coprocEnd.Close()
	})
	return l
}

func (l *link) seal(t *testing.T, f wire.Frame) []byte {
	t.Helper()
	plain, err := wire.Encode(f)
	if err != nil {
		t.Fatal(err)
	}
	sealed, err := l.cipher.Seal(plain)
	if err != nil {
		t.Fatal(err)
	}
	return sealed
}

// ============================================================
// Driver Tests
// ============================================================

func TestDriver_OpenReadsIdentity(t *testing.T) {
	l := newLink(t, 15)

	if got := l.driver.DeviceMACAddress(); got != nodeMAC {
		t.Errorf("DeviceMACAddress() = %016X", got)
	}
	info, err := l.driver.Info()
	if err != nil {
		t.Fatal(err)
	}
	if info.Version != "sim-1.0" {
		t.Errorf("Version = %q", info.Version)
	}
}

func TestDriver_Commands(t *testing.T) {
	l := newLink(t, 15)
	d := l.driver

	if err := d.Initialize(radio.Config{PANID: 0x9191, TxPower: 20, SequenceNumber: 100}); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if inits := l.radio.Inits(); len(inits) != 1 || inits[0].SequenceNumber != 100 || inits[0].PANID != 0x9191 {
		t.Errorf("radio saw %+v", inits)
	}
	if err := d.SetChannel(15); err != nil {
		t.Fatalf("SetChannel() error = %v", err)
	}
	if err := d.SetChannel(27); err == nil {
		t.Error("SetChannel(27) accepted")
	}
	if err := d.SetFrameRetries(10); err != nil || l.radio.FrameRetries() != 10 {
		t.Errorf("SetFrameRetries() error = %v, radio has %d", err, l.radio.FrameRetries())
	}

	msg := l.seal(t, wire.Message{FirmwareVersion: 1, Payload: []byte("x")})
	if err := d.Transmit(hostAddr, msg); err != nil {
		t.Errorf("Transmit() error = %v", err)
	}
	if err := d.Transmit(hostAddr+1, msg); !errors.Is(err, radio.ErrNoAck) {
		t.Errorf("Transmit() to nobody error = %v, want ErrNoAck", err)
	}

	result, err := d.DataRequest(hostAddr)
	if err != nil || result != radio.DataRequestNoDataAvailable {
		t.Errorf("DataRequest() = %s, %v", result, err)
	}

	// three frames so far: two transmits and one data request
	if got := d.NextSequenceNumber(); got != 103 {
		t.Errorf("NextSequenceNumber() = %d, want 103", got)
	}

	uptime, rtt, err := d.Ping()
	if err != nil || uptime < 0 || rtt <= 0 {
		t.Errorf("Ping() = %v, %v, %v", uptime, rtt, err)
	}

	if err := d.Teardown(); err != nil {
		t.Errorf("Teardown() error = %v", err)
	}
	if l.radio.Initialized() {
		t.Error("radio still initialized")
	}

	var se *rcp.StatusError
	if err := d.SetChannel(15); !errors.As(err, &se) || se.Status != rcp.StatusInvalid {
		t.Errorf("SetChannel() after teardown error = %v", err)
	}

	stats := d.Stats()
	if stats.Responses == 0 || stats.Requests != stats.Responses {
		t.Errorf("stats requests=%d responses=%d", stats.Requests, stats.Responses)
	}
}

func TestDriver_Indications(t *testing.T) {
	l := newLink(t, 18)
	d := l.driver

	_ = d.Initialize(radio.Config{})
	_ = d.SetChannel(18)

	frames := make(chan radio.Frame, 1)
	if err := d.Receive(func(f radio.Frame) { frames <- f }); err != nil {
		t.Fatal(err)
	}
	if err := d.Broadcast(l.seal(t, wire.DiscoveryRequest{})); err != nil {
		t.Fatal(err)
	}

	select {
	case f := <-frames:
		if f.SourceAddress != hostAddr || f.Channel != 18 {
			t.Errorf("frame = %+v", f)
		}
		plain, err := l.cipher.Open(f.Payload)
		if err != nil {
			t.Fatal(err)
		}
		got, _ := wire.Decode(plain)
		if resp, ok := got.(wire.DiscoveryResponse); !ok || resp.Channel != 18 {
			t.Errorf("decoded %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no indication")
	}

	if err := d.Receive(nil); err != nil {
		t.Error(err)
	}
	if d.Stats().Indications != 1 {
		t.Errorf("indications = %d", d.Stats().Indications)
	}
}

func TestDriver_FrameSizeLimit(t *testing.T) {
	l := newLink(t, 15)
	d := l.driver
	if err := d.Initialize(radio.Config{SequenceNumber: 10}); err != nil {
		t.Fatal(err)
	}
	if err := d.SetChannel(15); err != nil {
		t.Fatal(err)
	}

	if err := d.Transmit(hostAddr, make([]byte, radio.MaxFrameData+1)); !errors.Is(err, radio.ErrFrameTooLarge) {
		t.Errorf("Transmit() error = %v, want ErrFrameTooLarge", err)
	}
	if err := d.Broadcast(make([]byte, radio.MaxFrameData+1)); !errors.Is(err, radio.ErrFrameTooLarge) {
		t.Errorf("Broadcast() error = %v, want ErrFrameTooLarge", err)
	}
	if got := l.radio.Count(sim.OpTransmit) + l.radio.Count(sim.OpBroadcast); got != 0 {
		t.Errorf("oversized frames reached the radio %d times", got)
	}

	// A frame at the limit still fits one link packet
	if err := d.Transmit(hostAddr+1, make([]byte, radio.MaxFrameData)); !errors.Is(err, radio.ErrNoAck) {
		t.Errorf("Transmit() at the limit error = %v, want ErrNoAck", err)
	}
}

func TestDriver_Timeout(t *testing.T) {
	hostEnd, silent := net.Pipe()
	defer silent.Close()

	// Swallow commands without answering
	go func() {
		buf := make([]byte, 256)
		for {
			if _, err := silent.Read(buf); err != nil {
				return
			}
		}
	}()

	start := time.Now()
	_, err := rcp.Open(hostEnd, rcp.Options{Timeout: 50 * time.Millisecond, Logger: zerolog.Nop()})
	if !errors.Is(err, rcp.ErrTimeout) {
		t.Errorf("Open() error = %v, want ErrTimeout", err)
	}
	if time.Since(start) > time.Second {
		t.Error("timeout not honoured")
	}
}

func TestDriver_ClosedLink(t *testing.T) {
	l := newLink(t, 15)
	l.driver.Close()

	select {
	case <-l.driver.Done():
	case <-time.After(time.Second):
		t.Fatal("Done() not closed")
	}
	if err := l.driver.Initialize(radio.Config{}); !errors.Is(err, rcp.ErrClosed) {
		t.Errorf("Initialize() error = %v, want ErrClosed", err)
	}
	if !errors.Is(l.driver.Err(), rcp.ErrClosed) {
		t.Errorf("Err() = %v", l.driver.Err())
	}
}

func TestDriver_PeerHangup(t *testing.T) {
	hostEnd, coprocEnd := net.Pipe()
	r := sim.NewRadio(nodeMAC)
	go rcp.NewServer(r, "x", zerolog.Nop()).Serve(coprocEnd)

	d, err := rcp.Open(hostEnd, rcp.Options{Logger: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	coprocEnd.Close()

	select {
	case <-d.Done():
	case <-time.After(time.Second):
		t.Fatal("driver did not notice hangup")
	}
	if err := d.Initialize(radio.Config{}); !errors.Is(err, rcp.ErrClosed) {
		t.Errorf("Initialize() error = %v, want ErrClosed", err)
	}
}

// ============================================================
// Node Over The Link
// ============================================================

func TestNodeOverLink(t *testing.T) {
	l := newLink(t, 21)
	l.host.Queue(10*time.Millisecond, wire.PendingTimestampResponse{Timestamp: 99})

	cfg := node.DefaultConfig()
	cfg.EncryptionKey = testKey
	cfg.EncryptionSecret = testSecret
	cfg.Discovery.AttemptWait = 50 * time.Millisecond
	cfg.Discovery.FinalWait = 100 * time.Millisecond
	cfg.CollectIdle = 200 * time.Millisecond

	s := store.NewMemory()
	boot := &node.BootState{}
	n, err := node.New(cfg, node.Options{Radio: l.driver, Store: s, Boot: boot, Rand: bytes.NewReader([]byte{7})})
	if err != nil {
		t.Fatal(err)
	}

	if !n.SendMessage([]byte("over the wire")) {
		t.Fatal("SendMessage() = false")
	}

	received := l.host.Received()
	if len(received) != 1 || string(received[0].Message.Payload) != "over the wire" {
		t.Errorf("host received %+v", received)
	}
	if ts, ok := n.PendingTimestamp(); !ok || ts != 99 {
		t.Errorf("PendingTimestamp() = %d, %v", ts, ok)
	}

	ch, _ := s.ReadBlob(node.KeyChannel)
	host, _ := s.ReadBlob(node.KeyHost)
	if !bytes.Equal(ch, []byte{21}) || len(host) != 8 || binary.LittleEndian.Uint64(host) != hostAddr {
		t.Errorf("persisted channel=% X host=% X", ch, host)
	}
	if !boot.Valid() || boot.Sequence != l.radio.NextSequenceNumber() {
		t.Errorf("boot state %+v, radio at %d", *boot, l.radio.NextSequenceNumber())
	}
}
