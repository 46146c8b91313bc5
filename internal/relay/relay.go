// Package relay terminates uplink sessions on the wired side. It decodes the
// framed byte stream back into Ethernet frames and writes them into a TAP
// device, and carries frames read from the TAP device back to the bridge.
// In echo mode every frame is returned to the session it came from.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/1ureka/wifilink/internal/protocol"
	"github.com/1ureka/wifilink/internal/transport"
	"github.com/1ureka/wifilink/internal/util"
)

// TAPMTU is the MTU to configure on the TAP device so that every frame it
// produces, Ethernet header included, fits the 1500 byte uplink frame limit.
const TAPMTU = protocol.MaxFrameSize - 14

// FrameDevice is the wired side of the relay, usually a TAP device.
type FrameDevice interface {
	ReadFrame(buf []byte) (int, error)
	WriteFrame(frame []byte) error
}

// Stats counts relay traffic.
type Stats struct {
	Sessions   atomic.Int64
	FramesIn   atomic.Int64 // frames decoded from sessions
	FramesOut  atomic.Int64 // frames written to sessions
	Dropped    atomic.Int64 // frames with nowhere to go
	DeviceErrs atomic.Int64
}

// session is the active uplink session with its write lock; the device loop
// and echo mode may write concurrently.
type session struct {
	transport.Session
	wmu sync.Mutex
}

func (s *session) writeFrame(frame []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return protocol.WriteFrame(s, frame)
}

// Relay serves one active uplink session at a time. A new session replaces
// the previous one, which is how a reconnecting bridge takes over.
type Relay struct {
	dev    FrameDevice
	echo   bool
	webrtc transport.PeerConfig

	mu     sync.Mutex
	active *session

	stats Stats
	warn  *util.Throttle
}

// Options configure a Relay.
type Options struct {
	Echo   bool
	WebRTC transport.PeerConfig // answerer side of /signal sessions
}

// New returns a relay writing frames to dev. dev may be nil in echo mode.
func New(dev FrameDevice, opts Options) (*Relay, error) {
	if dev == nil && !opts.Echo {
		return nil, errors.New("relay: a frame device is required unless echo mode is enabled")
	}
	return &Relay{
		dev:    dev,
		echo:   opts.Echo,
		webrtc: opts.WebRTC,
		warn:   util.NewThrottle(2*time.Second, 5),
	}, nil
}

// Stats returns the relay counters.
func (r *Relay) Stats() *Stats { return &r.stats }

// Serve attaches s as the active session and pumps frames from it until it
// fails or ctx is cancelled. It closes s before returning.
func (r *Relay) Serve(ctx context.Context, s transport.Session) error {
	cur := &session{Session: s}
	id := transport.ShortID(s.ID())

	r.mu.Lock()
	prev := r.active
	r.active = cur
	r.mu.Unlock()

	if prev != nil {
		util.LogInfo("session %s replaces session %s", id, transport.ShortID(prev.ID()))
		prev.Close()
	}
	r.stats.Sessions.Add(1)
	util.LogSuccess("session %s attached", id)

	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	err := r.pump(cur)

	r.mu.Lock()
	if r.active == cur {
		r.active = nil
	}
	r.mu.Unlock()
	s.Close()

	if errors.Is(err, io.EOF) || ctx.Err() != nil {
		util.LogInfo("session %s detached", id)
		return nil
	}
	util.LogWarning("session %s ended: %v", id, err)
	return err
}

func (r *Relay) pump(s *session) error {
	fr := protocol.NewFrameReader(s)
	defer func() {
		st := fr.Stats()
		if st.ChecksumMismatch > 0 || st.Desync > 0 {
			util.LogWarning("session %s: %d checksum mismatches, %d resyncs",
				transport.ShortID(s.ID()), st.ChecksumMismatch, st.Desync)
		}
	}()

	for {
		frame, err := fr.ReadFrame()
		if err != nil {
			return err
		}
		r.stats.FramesIn.Add(1)
		logFrame("uplink", frame)

		if r.echo {
			if err := s.writeFrame(frame); err != nil {
				return fmt.Errorf("echo: %w", err)
			}
			r.stats.FramesOut.Add(1)
			continue
		}

		if err := r.dev.WriteFrame(frame); err != nil {
			r.stats.DeviceErrs.Add(1)
			r.warn.Warn("device write failed, frame dropped: %v", err)
		}
	}
}

// RunDevice carries frames read from the device to the active session until
// the device fails or is closed.
func (r *Relay) RunDevice(ctx context.Context) error {
	if r.dev == nil {
		<-ctx.Done()
		return nil
	}

	buf := make([]byte, 2048)
	for {
		n, err := r.dev.ReadFrame(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("relay: device read: %w", err)
		}

		if err := protocol.CheckSize(buf[:n]); err != nil {
			r.stats.Dropped.Add(1)
			r.warn.Warn("device frame dropped: %v", err)
			continue
		}
		logFrame("device", buf[:n])

		r.mu.Lock()
		s := r.active
		r.mu.Unlock()
		if s == nil {
			r.stats.Dropped.Add(1)
			continue
		}

		if err := s.writeFrame(buf[:n]); err != nil {
			r.stats.Dropped.Add(1)
			if errors.Is(err, transport.ErrBusy) {
				r.warn.Warn("session %s busy, frame dropped", transport.ShortID(s.ID()))
				continue
			}
			// A truncated frame desynchronises the bridge's decoder; closing
			// the session makes the bridge reconnect with a clean stream.
			util.LogWarning("session %s write failed, closing it: %v", transport.ShortID(s.ID()), err)
			s.Close()
			continue
		}
		r.stats.FramesOut.Add(1)
	}
}

// logFrame traces a frame's Ethernet header in debug mode.
func logFrame(from string, frame []byte) {
	var eth layers.Ethernet
	if err := eth.DecodeFromBytes(frame, gopacket.NilDecodeFeedback); err != nil {
		util.Logf("%s: %d byte frame (not ethernet: %v)", from, len(frame), err)
		return
	}
	util.Logf("%s: %s -> %s %s (%d bytes)", from, eth.SrcMAC, eth.DstMAC, eth.EthernetType, len(frame))
}
