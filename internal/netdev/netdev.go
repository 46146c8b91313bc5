// Package netdev opens the Linux network devices the bridge and the relay
// exchange Ethernet frames with: a raw packet socket on the USB gadget
// interface and a TAP device on the relay host.
package netdev

import (
	"errors"
	"os"
	"syscall"
	"time"
)

// ErrUnsupported is returned on platforms without packet sockets or TAP devices.
var ErrUnsupported = errors.New("netdev: not supported on this platform")

// DefaultWriteTimeout bounds how long WriteFrame waits for the device to
// accept a frame before reporting os.ErrDeadlineExceeded.
const DefaultWriteTimeout = 100 * time.Millisecond

// Device is a frame-oriented file descriptor. Each Read returns one frame and
// each Write sends one.
type Device struct {
	f            *os.File
	name         string
	writeTimeout time.Duration

	// raw is set for packet sockets, whose reads skip frames we sent.
	raw syscall.RawConn
}

// Name returns the interface name.
func (d *Device) Name() string { return d.name }

// ReadFrame blocks until one frame has been read into buf. On a packet socket
// frames transmitted on the interface are skipped.
func (d *Device) ReadFrame(buf []byte) (int, error) {
	if d.raw != nil {
		return d.readInbound(buf)
	}
	return d.f.Read(buf)
}

// WriteFrame sends one frame, giving up after the write timeout.
func (d *Device) WriteFrame(frame []byte) error {
	if d.writeTimeout > 0 {
		if err := d.f.SetWriteDeadline(time.Now().Add(d.writeTimeout)); err != nil {
			return err
		}
	}
	_, err := d.f.Write(frame)
	return err
}

// Read and Write let a Device be used as a plain io.ReadWriter.
func (d *Device) Read(p []byte) (int, error) { return d.ReadFrame(p) }

func (d *Device) Write(p []byte) (int, error) {
	if err := d.WriteFrame(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close releases the descriptor and unblocks pending reads.
func (d *Device) Close() error { return d.f.Close() }
