package main

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ampio/lcc-gateway/internal/can"
	"github.com/ampio/lcc-gateway/internal/metrics"
	"github.com/ampio/lcc-gateway/internal/serial"
	"github.com/ampio/lcc-gateway/internal/socketcan"
)

// fakeSerialPort implements serial.Port for tests.
type fakeSerialPort struct {
	reads [][]byte
	idx   int
	mu    sync.Mutex
}

func (f *fakeSerialPort) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idx >= len(f.reads) {
		time.Sleep(10 * time.Millisecond)
		return 0, io.EOF
	}
	chunk := f.reads[f.idx]
	f.idx++
	n := copy(p, chunk)
	return n, nil
}
func (f *fakeSerialPort) Write(p []byte) (int, error) { return len(p), nil }
func (f *fakeSerialPort) Close() error                { return nil }

// testLogger returns a no-op slog.Logger for tests.
func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// TestInitSerialBackendBasic validates that a frame presented via the serial
// RX loop is decoded and handed to onFrame, and that the serial RX metric
// increments.
func TestInitSerialBackendBasic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frame := can.Frame{CANID: (0x123 & can.CAN_EFF_MASK) | can.CAN_EFF_FLAG, Len: 2}
	frame.Data[0] = 0xAA
	frame.Data[1] = 0xBB
	enc := serial.Codec{}.Encode(frame)

	openSerialPort = func(name string, baud int, to time.Duration) (serial.Port, error) {
		return &fakeSerialPort{reads: [][]byte{enc}}, nil
	}
	defer func() { openSerialPort = serial.OpenDongle }()

	out := make(chan can.Frame, 1)
	onFrame := func(fr can.Frame) { out <- fr }

	cfg := &appConfig{backend: "serial", serialDev: "fake", baud: 115200, serialReadTO: 50 * time.Millisecond}
	var wg sync.WaitGroup
	send, cleanup, err := initSerialBackend(ctx, cfg, onFrame, testLogger(), &wg)
	if err != nil {
		t.Fatalf("initSerialBackend: %v", err)
	}
	defer cleanup()

	select {
	case fr := <-out:
		if fr.CANID != frame.CANID || fr.Len != frame.Len || fr.Data[0] != frame.Data[0] {
			t.Fatalf("unexpected frame: %+v", fr)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for frame")
	}

	if err := send(frame); err != nil {
		t.Fatalf("send frame: %v", err)
	}

	snap := metrics.Snap()
	if snap.SerialRx == 0 {
		t.Fatalf("expected SerialRx > 0, got %d", snap.SerialRx)
	}
}

// ---- SocketCAN backend test ----

type fakeSocketDev struct {
	frames   []can.Frame
	idx      int
	errAfter bool
}

func (d *fakeSocketDev) ReadFrame(fr *can.Frame) error {
	if d.idx < len(d.frames) {
		*fr = d.frames[d.idx]
		d.idx++
		return nil
	}
	if d.errAfter {
		return io.ErrUnexpectedEOF
	}
	time.Sleep(10 * time.Millisecond)
	return io.EOF
}
func (d *fakeSocketDev) WriteFrame(fr can.Frame) error { return nil }
func (d *fakeSocketDev) Close() error                  { return nil }

func TestInitSocketCANBackendBasic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frame := can.Frame{CANID: 0x555, Len: 3}
	frame.Data[0], frame.Data[1], frame.Data[2] = 0x01, 0x02, 0x03

	openSocketCANDevice = func(iface string) (socketcan.Dev, error) {
		return &fakeSocketDev{frames: []can.Frame{frame}, errAfter: true}, nil
	}
	defer func() {
		openSocketCANDevice = func(iface string) (socketcan.Dev, error) { return socketcan.Open(iface) }
	}()

	out := make(chan can.Frame, 1)
	onFrame := func(fr can.Frame) { out <- fr }
	cfg := &appConfig{backend: "socketcan", canIf: "vcan0"}
	var wg sync.WaitGroup
	send, cleanup, err := initSocketCANBackend(ctx, cfg, onFrame, testLogger(), &wg)
	if err != nil {
		t.Fatalf("initSocketCANBackend: %v", err)
	}
	defer cleanup()

	select {
	case fr := <-out:
		if fr.CANID != frame.CANID || fr.Len != frame.Len {
			t.Fatalf("unexpected frame: %+v", fr)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for socketcan frame")
	}

	if err := send(frame); err != nil {
		t.Fatalf("send frame: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	snap := metrics.Snap()
	if snap.SocketCANRx == 0 {
		t.Fatalf("expected SocketCANRx > 0")
	}
	if snap.Errors == 0 {
		t.Fatalf("expected at least one error increment (read error after frame)")
	}
}
