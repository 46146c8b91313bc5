package bridge

import (
	"context"
	"errors"

	"github.com/1ureka/wifilink/internal/connstate"
	"github.com/1ureka/wifilink/internal/link"
	"github.com/1ureka/wifilink/internal/protocol"
	"github.com/1ureka/wifilink/internal/queue"
)

// fromUSB is the USB receive callback. It only queues.
func (b *Bridge) fromUSB(frame []byte) {
	err := b.SendToWifi(frame)
	switch {
	case err == nil, errors.Is(err, ErrNotConnected):
	case errors.Is(err, ErrQueueFull):
		b.warn.Warn("usb->wifi queue full, frame dropped")
	default:
		b.warn.Warn("usb->wifi frame dropped: %v", err)
	}
}

// fromWifi is the uplink receive callback: it feeds the decoder and queues
// every complete frame for the host.
func (b *Bridge) fromWifi(chunk []byte) {
	var frames [][]byte

	b.decMu.Lock()
	b.decoder.Feed(chunk, func(frame []byte) { frames = append(frames, frame) })
	codec := b.decoder.Stats()
	b.decMu.Unlock()

	b.stats.CodecChecksumErrors.Store(int64(codec.ChecksumMismatch))
	b.stats.CodecResyncs.Store(int64(codec.Desync))

	for _, frame := range frames {
		pkt, err := protocol.NewPacket(frame, protocol.ToUSB)
		if err != nil {
			b.stats.DroppedInvalid.Add(1)
			continue
		}
		if err := b.toUSB.Enqueue(pkt, b.cfg.EnqueueTimeout); err != nil {
			b.stats.DroppedBackpressure.Add(1)
			b.warn.Warn("wifi->usb queue full, frame dropped")
		}
	}
}

// forwardToWifi drains queue A into the uplink until ctx is done or the
// queue is closed. A failed send is never retried: the frame is dropped and
// the failure handed to the state machine.
func (b *Bridge) forwardToWifi(ctx context.Context) {
	for {
		pkt, err := b.toWifi.Dequeue(ctx, queue.Forever)
		if err != nil {
			return
		}

		// The link may have dropped while the frame was queued.
		if b.machine.State() != connstate.Connected {
			b.stats.DroppedDisconnected.Add(1)
			continue
		}

		wire, err := protocol.Encode(pkt.Payload)
		if err != nil {
			b.stats.DroppedInvalid.Add(1)
			continue
		}

		err = b.wifi.Send(wire)
		switch {
		case err == nil:
			b.stats.ForwardedToWifi.Add(1)
			b.stats.BytesToWifi.Add(int64(pkt.Len()))
		case errors.Is(err, link.ErrBusy):
			b.stats.DroppedBackpressure.Add(1)
			b.warn.Warn("uplink busy, frame dropped")
		default:
			b.stats.TransportFailures.Add(1)
			b.warn.Warn("uplink send failed: %v", err)
			b.machine.TransportFailure(err)
		}
	}
}

// forwardToUSB drains queue B into the USB link. USB send errors are counted
// and never affect the uplink.
func (b *Bridge) forwardToUSB(ctx context.Context) {
	for {
		pkt, err := b.toUSB.Dequeue(ctx, queue.Forever)
		if err != nil {
			return
		}

		if err := b.SendToUsb(pkt.Payload); err != nil {
			b.stats.DroppedUSBTx.Add(1)
			b.warn.Warn("%s frame dropped: %v", pkt.Dir, err)
			continue
		}
		b.stats.ForwardedToUSB.Add(1)
		b.stats.BytesToUSB.Add(int64(pkt.Len()))
	}
}
