// Package bridge forwards Ethernet frames between the USB link and the WiFi
// uplink. Each direction is a producer/consumer pair over a bounded queue:
//
//	USB RX -> queue A -> encode -> WiFi TX   (gated by the connection state)
//	WiFi RX -> decode -> queue B -> USB TX
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/1ureka/wifilink/internal/config"
	"github.com/1ureka/wifilink/internal/connstate"
	"github.com/1ureka/wifilink/internal/link"
	"github.com/1ureka/wifilink/internal/protocol"
	"github.com/1ureka/wifilink/internal/queue"
	"github.com/1ureka/wifilink/internal/util"
)

// Uplink is the WiFi side of the bridge: a link that the connection state
// machine can connect and that reports asynchronous link loss. OnSessionStart
// callbacks run before any data of the new session is received.
type Uplink interface {
	link.Adapter
	connstate.Connector
	OnLinkDown(fn func(err error))
	OnSessionStart(fn func())
}

// Bridge owns both pipelines and the connection state machine.
type Bridge struct {
	cfg     config.Config
	usb     link.Adapter
	wifi    Uplink
	machine *connstate.Machine

	toWifi *queue.Queue // queue A
	toUSB  *queue.Queue // queue B

	decMu   sync.Mutex
	decoder *protocol.Decoder

	stats util.BridgeStats
	warn  *util.Throttle
}

// New wires usb and wifi together. The bridge starts Disconnected; nothing
// moves until Run is called.
func New(cfg config.Config, usb link.Adapter, wifi Uplink) (*Bridge, error) {
	if usb == nil || wifi == nil {
		return nil, fmt.Errorf("%w: both link adapters are required", ErrInvalidArgument)
	}

	toWifi, err := queue.New(cfg.QueueCapacity)
	if err != nil {
		return nil, fmt.Errorf("%w: usb->wifi queue: %v", ErrAllocation, err)
	}
	toUSB, err := queue.New(cfg.QueueCapacity)
	if err != nil {
		return nil, fmt.Errorf("%w: wifi->usb queue: %v", ErrAllocation, err)
	}

	b := &Bridge{
		cfg:     cfg,
		usb:     usb,
		wifi:    wifi,
		toWifi:  toWifi,
		toUSB:   toUSB,
		decoder: protocol.NewDecoder(),
		warn:    util.NewThrottle(2*time.Second, 5),
	}

	b.machine = connstate.New(wifi, connstate.RetryPolicy{
		MaxRetries: cfg.MaxRetries,
		Backoff:    cfg.Backoff,
	})
	b.machine.OnTransition(b.onTransition)

	usb.OnReceive(b.fromUSB)
	wifi.OnReceive(b.fromWifi)
	wifi.OnLinkDown(b.machine.LinkDown)
	wifi.OnSessionStart(b.resetDecoder)

	return b, nil
}

// Run connects the uplink and forwards frames until ctx is cancelled. It
// returns after both consumers have stopped and the uplink is disconnected.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.machine.Connect(b.cfg.SSID, b.cfg.Password); err != nil {
		return err
	}

	util.StartStatsReporter(ctx, &b.stats, b.cfg.StatsInterval)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		b.forwardToWifi(ctx)
	}()
	go func() {
		defer wg.Done()
		b.forwardToUSB(ctx)
	}()

	<-ctx.Done()

	err := b.machine.Disconnect()
	b.toWifi.Close()
	b.toUSB.Close()
	wg.Wait()

	return err
}

// Reconnect restarts association with the configured network. It is the
// explicit re-trigger that leaves Failed.
func (b *Bridge) Reconnect() error {
	return b.machine.Connect(b.cfg.SSID, b.cfg.Password)
}

// Disconnect drops the uplink and stops automatic reconnection.
func (b *Bridge) Disconnect() error {
	return b.machine.Disconnect()
}

// State returns the uplink connection state.
func (b *Bridge) State() connstate.State { return b.machine.State() }

// Stats returns a snapshot of the bridge counters.
func (b *Bridge) Stats() util.Snapshot { return b.stats.Snapshot() }

// SendToWifi queues one Ethernet frame for the uplink. Oversized or empty
// frames and frames arriving while the uplink is not Connected are rejected
// without touching the queue. Every rejection is counted.
func (b *Bridge) SendToWifi(frame []byte) error {
	if len(frame) == 0 {
		b.stats.DroppedInvalid.Add(1)
		return fmt.Errorf("%w: empty frame", ErrInvalidArgument)
	}
	if err := protocol.CheckSize(frame); err != nil {
		b.stats.DroppedInvalid.Add(1)
		return err
	}
	if b.machine.State() != connstate.Connected {
		b.stats.DroppedDisconnected.Add(1)
		return ErrNotConnected
	}

	pkt, err := protocol.NewPacket(frame, protocol.ToWifi)
	if err != nil {
		b.stats.DroppedInvalid.Add(1)
		return err
	}

	if err := b.toWifi.Enqueue(pkt, b.cfg.EnqueueTimeout); err != nil {
		if errors.Is(err, queue.ErrFull) {
			b.stats.DroppedBackpressure.Add(1)
		}
		return err
	}
	return nil
}

// SendToUsb transmits one frame to the host. Errors wrap link.ErrBusy or
// link.ErrFail.
func (b *Bridge) SendToUsb(frame []byte) error {
	if len(frame) == 0 {
		return fmt.Errorf("%w: empty frame", ErrInvalidArgument)
	}
	if err := protocol.CheckSize(frame); err != nil {
		return err
	}
	if err := b.usb.Send(frame); err != nil {
		return fmt.Errorf("send to usb: %w", err)
	}
	return nil
}

// resetDecoder discards partial frame data so that every session's stream
// is decoded from its first byte.
func (b *Bridge) resetDecoder() {
	b.decMu.Lock()
	b.decoder.Reset()
	b.decMu.Unlock()
}

// onTransition applies the side effects of a state change. It runs under the
// state machine's transition lock.
func (b *Bridge) onTransition(from, to connstate.State) {
	b.stats.ReconnectAttempts.Store(b.machine.Attempts())

	if from == connstate.Connected {
		// Frames queued for the old session are stale.
		if n := b.toWifi.Drain(); n > 0 {
			b.stats.DroppedDisconnected.Add(int64(n))
			util.LogDebug("dropped %d queued frames after leaving Connected", n)
		}
		b.resetDecoder()
	}

	switch to {
	case connstate.Connected:
		util.LogSuccess("uplink connected to %q", b.cfg.SSID)
	case connstate.Retrying:
		util.LogWarning("uplink %s -> Retrying", from)
	case connstate.Failed:
		util.LogError("uplink to %q failed after %d retries; waiting for an explicit reconnect", b.cfg.SSID, b.cfg.MaxRetries)
	default:
		util.LogInfo("uplink %s -> %s", from, to)
	}
}
