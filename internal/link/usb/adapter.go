// Package usb implements the host-facing side of the bridge: the USB gadget
// network interface that the host computer sees as an Ethernet adapter.
package usb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/1ureka/wifilink/internal/link"
	"github.com/1ureka/wifilink/internal/util"
)

// MaxFrameSize is the largest frame the gadget presents: a 14-byte Ethernet
// header followed by a 1500 byte payload.
const MaxFrameSize = 14 + 1500

// readBufferSize leaves room to detect frames larger than MaxFrameSize
// instead of silently truncating them.
const readBufferSize = 2048

// readErrorPause keeps a persistently failing device from spinning the loop.
const readErrorPause = 50 * time.Millisecond

// Device is a frame-oriented handle on the gadget interface. ReadFrame blocks
// until one frame is available; Close unblocks it.
type Device interface {
	ReadFrame(buf []byte) (int, error)
	WriteFrame(frame []byte) error
	Close() error
}

// Counters are the receive-side diagnostics of an Adapter.
type Counters struct {
	Received  int64 // frames handed to the receive callback
	Malformed int64 // frames shorter than an Ethernet header or undecodable
	Oversized int64 // frames above MaxFrameSize
}

// Adapter exposes a Device through the link.Adapter contract.
type Adapter struct {
	name string
	dev  Device

	mu     sync.RWMutex
	onRecv link.ReceiveFunc

	ready     atomic.Bool
	closeOnce sync.Once
	wg        sync.WaitGroup

	received  atomic.Int64
	malformed atomic.Int64
	oversized atomic.Int64

	warn *util.Throttle
}

var _ link.Adapter = (*Adapter)(nil)

// New wraps dev. The adapter is not ready until Init is called.
func New(name string, dev Device) *Adapter {
	return &Adapter{
		name: name,
		dev:  dev,
		warn: util.NewThrottle(5*time.Second, 3),
	}
}

// Init starts the receive loop. The adapter closes itself when ctx is cancelled.
func (a *Adapter) Init(ctx context.Context) error {
	if !a.ready.CompareAndSwap(false, true) {
		return fmt.Errorf("usb %s: already initialised", a.name)
	}

	a.wg.Add(1)
	go a.readLoop()

	go func() {
		<-ctx.Done()
		a.Close()
	}()

	util.LogInfo("usb link %s ready", a.name)
	return nil
}

// OnReceive registers the receive callback.
func (a *Adapter) OnReceive(fn link.ReceiveFunc) {
	a.mu.Lock()
	a.onRecv = fn
	a.mu.Unlock()
}

// IsReady reports whether the receive loop is running.
func (a *Adapter) IsReady() bool { return a.ready.Load() }

// Send writes one frame to the host.
func (a *Adapter) Send(frame []byte) error {
	if !a.ready.Load() {
		return fmt.Errorf("usb %s: %w: %w", a.name, link.ErrBusy, link.ErrNotReady)
	}
	if len(frame) == 0 || len(frame) > MaxFrameSize {
		return fmt.Errorf("usb %s: %w: frame of %d bytes", a.name, link.ErrFail, len(frame))
	}

	err := a.dev.WriteFrame(frame)
	switch {
	case err == nil:
		return nil
	case isTransient(err):
		return fmt.Errorf("usb %s: %w: %v", a.name, link.ErrBusy, err)
	default:
		return fmt.Errorf("usb %s: %w: %v", a.name, link.ErrFail, err)
	}
}

// Counters returns the receive-side diagnostics.
func (a *Adapter) Counters() Counters {
	return Counters{
		Received:  a.received.Load(),
		Malformed: a.malformed.Load(),
		Oversized: a.oversized.Load(),
	}
}

// Close stops the receive loop and releases the device.
func (a *Adapter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.ready.Store(false)
		err = a.dev.Close()
		a.wg.Wait()
		util.LogInfo("usb link %s closed", a.name)
	})
	return err
}

func (a *Adapter) readLoop() {
	defer a.wg.Done()

	buf := make([]byte, readBufferSize)
	var eth layers.Ethernet

	for {
		n, err := a.dev.ReadFrame(buf)
		if err != nil {
			if isClosed(err) || !a.ready.Load() {
				return
			}
			if !isTransient(err) {
				a.warn.Warn("usb %s: read failed: %v", a.name, err)
				time.Sleep(readErrorPause)
			}
			continue
		}

		if n > MaxFrameSize {
			a.oversized.Add(1)
			a.warn.Warn("usb %s: dropped oversized frame (%d bytes)", a.name, n)
			continue
		}
		if err := eth.DecodeFromBytes(buf[:n], gopacket.NilDecodeFeedback); err != nil {
			a.malformed.Add(1)
			a.warn.Warn("usb %s: dropped malformed frame (%d bytes): %v", a.name, n, err)
			continue
		}
		util.Logf("usb %s rx %s -> %s %s (%d bytes)", a.name, eth.SrcMAC, eth.DstMAC, eth.EthernetType, n)

		a.mu.RLock()
		fn := a.onRecv
		a.mu.RUnlock()
		if fn == nil {
			continue
		}

		frame := make([]byte, n)
		copy(frame, buf[:n])
		a.received.Add(1)
		fn(frame)
	}
}

func isClosed(err error) bool {
	return errors.Is(err, os.ErrClosed) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF)
}

func isTransient(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, syscall.EAGAIN) ||
		errors.Is(err, syscall.ENOBUFS) ||
		errors.Is(err, syscall.EINTR)
}
