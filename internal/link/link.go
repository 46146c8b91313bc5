// Package link defines the contract shared by the USB-side and WiFi-side
// adapters of the bridge.
package link

import "errors"

var (
	// ErrBusy signals transient backpressure; the caller retries or drops.
	ErrBusy = errors.New("link busy")
	// ErrFail signals a transport fault for that call.
	ErrFail = errors.New("link failure")
	// ErrNotReady is returned when the link has not been initialised or was closed.
	ErrNotReady = errors.New("link not ready")
)

// ReceiveFunc is invoked once per received frame on the adapter's receive
// goroutine. It must return quickly: queue the frame, never process it. The
// slice is owned by the callee.
type ReceiveFunc func(frame []byte)

// Adapter is a link endpoint the bridge can send frames to and receive frames from.
type Adapter interface {
	// OnReceive registers the receive callback, replacing any previous one.
	OnReceive(fn ReceiveFunc)
	// Send transmits one frame. It returns nil, ErrBusy, or an error wrapping ErrFail.
	Send(frame []byte) error
	// IsReady reports whether the underlying transport is currently usable.
	IsReady() bool
}
