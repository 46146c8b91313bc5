package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/1ureka/wifilink/internal/config"
	"github.com/1ureka/wifilink/internal/connstate"
	"github.com/1ureka/wifilink/internal/link"
	"github.com/1ureka/wifilink/internal/protocol"
)

// fakeUSB records frames sent to the host and lets tests inject received ones.
type fakeUSB struct {
	mu      sync.Mutex
	onRecv  link.ReceiveFunc
	sendErr error
	sent    chan []byte
}

func newFakeUSB() *fakeUSB { return &fakeUSB{sent: make(chan []byte, 64)} }

func (u *fakeUSB) OnReceive(fn link.ReceiveFunc) { u.mu.Lock(); u.onRecv = fn; u.mu.Unlock() }
func (u *fakeUSB) IsReady() bool                 { return true }

func (u *fakeUSB) Send(frame []byte) error {
	u.mu.Lock()
	err := u.sendErr
	u.mu.Unlock()
	if err != nil {
		return err
	}
	u.sent <- append([]byte(nil), frame...)
	return nil
}

func (u *fakeUSB) receive(frame []byte) {
	u.mu.Lock()
	fn := u.onRecv
	u.mu.Unlock()
	fn(frame)
}

// fakeUplink stands in for the WiFi adapter.
type fakeUplink struct {
	mu         sync.Mutex
	connectErr error
	block      bool
	sendErr    error
	onRecv     link.ReceiveFunc
	onDown     func(error)
	onStart    func()

	connects atomic.Int32
	sent     chan []byte
}

func newFakeUplink() *fakeUplink { return &fakeUplink{sent: make(chan []byte, 64)} }

func (f *fakeUplink) Connect(ctx context.Context, ssid, password string) error {
	f.connects.Add(1)
	f.mu.Lock()
	block, err := f.block, f.connectErr
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if err == nil {
		f.sessionStart()
	}
	return err
}

func (f *fakeUplink) Disconnect() error { return nil }
func (f *fakeUplink) IsReady() bool     { return true }

func (f *fakeUplink) OnReceive(fn link.ReceiveFunc) { f.mu.Lock(); f.onRecv = fn; f.mu.Unlock() }
func (f *fakeUplink) OnLinkDown(fn func(error))     { f.mu.Lock(); f.onDown = fn; f.mu.Unlock() }
func (f *fakeUplink) OnSessionStart(fn func())      { f.mu.Lock(); f.onStart = fn; f.mu.Unlock() }

func (f *fakeUplink) sessionStart() {
	f.mu.Lock()
	fn := f.onStart
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (f *fakeUplink) Send(data []byte) error {
	f.mu.Lock()
	err := f.sendErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.sent <- append([]byte(nil), data...)
	return nil
}

func (f *fakeUplink) receive(chunk []byte) {
	f.mu.Lock()
	fn := f.onRecv
	f.mu.Unlock()
	fn(chunk)
}

func (f *fakeUplink) linkDown(err error) {
	f.mu.Lock()
	fn := f.onDown
	f.mu.Unlock()
	fn(err)
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.SSID = "office"
	cfg.UplinkAddr = "relay:7000"
	cfg.Backoff = []time.Duration{time.Hour}
	cfg.EnqueueTimeout = 5 * time.Millisecond
	cfg.StatsInterval = 0
	return cfg
}

func newTestBridge(t *testing.T, cfg config.Config) (*Bridge, *fakeUSB, *fakeUplink) {
	t.Helper()
	usb, wifi := newFakeUSB(), newFakeUplink()
	b, err := New(cfg, usb, wifi)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b, usb, wifi
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitState(t *testing.T, b *Bridge, want connstate.State) {
	t.Helper()
	eventually(t, want.String(), func() bool { return b.State() == want })
}

// connectOnly brings the uplink up without starting the consumers, so queued
// frames stay observable.
func connectOnly(t *testing.T, b *Bridge) {
	t.Helper()
	if err := b.Reconnect(); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	waitState(t, b, connstate.Connected)
}

func frameOf(size int, fill byte) []byte { return bytes.Repeat([]byte{fill}, size) }

func TestNewValidatesInput(t *testing.T) {
	if _, err := New(testConfig(), nil, newFakeUplink()); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("New without usb = %v, want ErrInvalidArgument", err)
	}

	cfg := testConfig()
	cfg.QueueCapacity = 0
	if _, err := New(cfg, newFakeUSB(), newFakeUplink()); !errors.Is(err, ErrAllocation) {
		t.Errorf("New with zero capacity = %v, want ErrAllocation", err)
	}
}

func TestSendToWifiSizeBoundary(t *testing.T) {
	b, _, _ := newTestBridge(t, testConfig())
	connectOnly(t, b)

	if err := b.SendToWifi(frameOf(protocol.MaxFrameSize, 1)); err != nil {
		t.Fatalf("1500-byte frame rejected: %v", err)
	}
	if err := b.SendToWifi(frameOf(protocol.MaxFrameSize+1, 1)); !errors.Is(err, ErrInvalidSize) {
		t.Fatalf("1501-byte frame = %v, want ErrInvalidSize", err)
	}
	if err := b.SendToWifi(nil); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("empty frame = %v, want ErrInvalidArgument", err)
	}

	if n := b.toWifi.Len(); n != 1 {
		t.Errorf("queue holds %d frames, want only the valid one", n)
	}
	if got := b.Stats().DroppedInvalid; got != 2 {
		t.Errorf("DroppedInvalid = %d, want 2", got)
	}
}

func TestSendToWifiBackpressure(t *testing.T) {
	b, _, _ := newTestBridge(t, testConfig())
	connectOnly(t, b)

	capacity := b.toWifi.Cap()
	for i := 0; i < capacity; i++ {
		if err := b.SendToWifi(frameOf(64, byte(i))); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
	}
	if err := b.SendToWifi(frameOf(64, 0xEE)); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("frame beyond capacity = %v, want ErrQueueFull", err)
	}
	if got := b.Stats().DroppedBackpressure; got != 1 {
		t.Errorf("DroppedBackpressure = %d, want 1", got)
	}
}

// TestDropWhileDisconnected checks every non-Connected state rejects frames
// before they reach the queue.
func TestDropWhileDisconnected(t *testing.T) {
	testCases := []struct {
		name  string
		setup func(t *testing.T, b *Bridge, wifi *fakeUplink)
		want  connstate.State
	}{
		{
			name:  "disconnected",
			setup: func(*testing.T, *Bridge, *fakeUplink) {},
			want:  connstate.Disconnected,
		},
		{
			name: "connecting",
			setup: func(t *testing.T, b *Bridge, wifi *fakeUplink) {
				wifi.block = true
				_ = b.Reconnect()
			},
			want: connstate.Connecting,
		},
		{
			name: "retrying",
			setup: func(t *testing.T, b *Bridge, wifi *fakeUplink) {
				connectOnly(t, b)
				wifi.linkDown(errors.New("beacon lost"))
			},
			want: connstate.Retrying,
		},
		{
			name: "failed",
			setup: func(t *testing.T, b *Bridge, wifi *fakeUplink) {
				wifi.connectErr = errors.New("wrong password")
				_ = b.Reconnect()
				waitState(t, b, connstate.Failed)
			},
			want: connstate.Failed,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			if tc.want == connstate.Failed {
				cfg.MaxRetries = 0
			}
			b, _, wifi := newTestBridge(t, cfg)
			defer b.Disconnect()

			tc.setup(t, b, wifi)
			if b.State() != tc.want {
				t.Fatalf("state = %s, want %s", b.State(), tc.want)
			}

			for i := 0; i < 5; i++ {
				if err := b.SendToWifi(frameOf(100, byte(i))); !errors.Is(err, ErrNotConnected) {
					t.Fatalf("SendToWifi = %v, want ErrNotConnected", err)
				}
			}
			if n := b.toWifi.Len(); n != 0 {
				t.Errorf("queue holds %d frames", n)
			}
			if got := b.Stats().DroppedDisconnected; got != 5 {
				t.Errorf("DroppedDisconnected = %d, want 5", got)
			}
		})
	}
}

func TestLinkLossDrainsQueue(t *testing.T) {
	b, _, wifi := newTestBridge(t, testConfig())
	connectOnly(t, b)
	defer b.Disconnect()

	for i := 0; i < 3; i++ {
		_ = b.SendToWifi(frameOf(80, byte(i)))
	}
	wifi.linkDown(errors.New("deauthenticated"))

	if n := b.toWifi.Len(); n != 0 {
		t.Errorf("queue holds %d stale frames after link loss", n)
	}
	if got := b.Stats().DroppedDisconnected; got != 3 {
		t.Errorf("DroppedDisconnected = %d, want 3", got)
	}
}

func runBridge(t *testing.T, b *Bridge) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	waitState(t, b, connstate.Connected)

	return func() {
		stop()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("Run did not return after cancellation")
		}
	}
}

func TestForwardingBothDirections(t *testing.T) {
	b, usb, wifi := newTestBridge(t, testConfig())
	stop := runBridge(t, b)
	defer stop()

	// USB -> WiFi: the uplink sees the encoded frame.
	out := frameOf(300, 0x42)
	usb.receive(out)
	select {
	case wire := <-wifi.sent:
		want, _ := protocol.Encode(out)
		if !bytes.Equal(wire, want) {
			t.Error("uplink received a different encoding")
		}
	case <-time.After(time.Second):
		t.Fatal("nothing reached the uplink")
	}

	// WiFi -> USB: two frames split across arbitrary chunks.
	in1, in2 := frameOf(1500, 0x11), frameOf(60, 0x22)
	stream, _ := protocol.AppendFrame(nil, in1)
	stream, _ = protocol.AppendFrame(stream, in2)
	for len(stream) > 0 {
		n := min(len(stream), 333)
		wifi.receive(stream[:n])
		stream = stream[n:]
	}

	for i, want := range [][]byte{in1, in2} {
		select {
		case got := <-usb.sent:
			if !bytes.Equal(got, want) {
				t.Errorf("usb frame %d mismatch", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("usb frame %d not delivered", i)
		}
	}

	eventually(t, "forwarding counters", func() bool {
		s := b.Stats()
		return s.ForwardedToWifi == 1 && s.ForwardedToUSB == 2
	})
}

func TestTransportFailureTriggersRetry(t *testing.T) {
	b, usb, wifi := newTestBridge(t, testConfig())
	stop := runBridge(t, b)
	defer stop()

	wifi.mu.Lock()
	wifi.sendErr = fmt.Errorf("%w: connection reset", link.ErrFail)
	wifi.mu.Unlock()

	usb.receive(frameOf(64, 1))
	waitState(t, b, connstate.Retrying)

	if got := b.Stats().TransportFailures; got != 1 {
		t.Errorf("TransportFailures = %d, want 1", got)
	}
}

func TestUplinkBusyDropsWithoutRetry(t *testing.T) {
	b, usb, wifi := newTestBridge(t, testConfig())
	stop := runBridge(t, b)
	defer stop()

	wifi.mu.Lock()
	wifi.sendErr = link.ErrBusy
	wifi.mu.Unlock()

	usb.receive(frameOf(64, 1))
	eventually(t, "busy drop", func() bool { return b.Stats().DroppedBackpressure == 1 })
	if b.State() != connstate.Connected {
		t.Errorf("state = %s, want Connected", b.State())
	}
}

func TestUSBFailureDoesNotAffectUplink(t *testing.T) {
	b, usb, wifi := newTestBridge(t, testConfig())
	stop := runBridge(t, b)
	defer stop()

	usb.mu.Lock()
	usb.sendErr = link.ErrFail
	usb.mu.Unlock()

	wire, _ := protocol.Encode(frameOf(64, 9))
	wifi.receive(wire)

	eventually(t, "usb drop", func() bool { return b.Stats().DroppedUSBTx == 1 })
	if b.State() != connstate.Connected {
		t.Errorf("state = %s, want Connected", b.State())
	}
	if err := b.SendToUsb(frameOf(10, 1)); !errors.Is(err, link.ErrFail) {
		t.Errorf("SendToUsb = %v, want ErrFail", err)
	}
}

// TestNewSessionStartsWithCleanDecoder leaves half a frame from one session in
// the decoder and checks the next session's first frame is still delivered.
func TestNewSessionStartsWithCleanDecoder(t *testing.T) {
	b, usb, wifi := newTestBridge(t, testConfig())
	stop := runBridge(t, b)
	defer stop()

	stale, _ := protocol.Encode(frameOf(1500, 0x33))
	wifi.receive(stale[:protocol.HeaderSize+100])

	wifi.sessionStart()

	fresh := frameOf(60, 0x44)
	wire, _ := protocol.Encode(fresh)
	wifi.receive(wire)

	select {
	case got := <-usb.sent:
		if !bytes.Equal(got, fresh) {
			t.Error("usb received a different frame")
		}
	case <-time.After(time.Second):
		t.Fatal("first frame of the new session was held back")
	}
}
