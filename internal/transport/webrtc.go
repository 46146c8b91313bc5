package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/wifilink/internal/util"
)

const (
	highWaterMark = 256 * 1024 // report busy when bufferedAmount exceeds this
	lowWaterMark  = 64 * 1024  // writers resume when bufferedAmount drops below this
	drainTimeout  = 200 * time.Millisecond
)

// Peer wraps a single PeerConnection + DataChannel pair and exposes the
// channel as an uplink Session once it is open.
//
// Its lifecycle is governed by the DataChannel, the PeerConnection state and
// the context passed at construction time: whichever ends first closes the
// Peer, which ends pending reads with io.EOF.
type Peer struct {
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel
	id string

	openSignal  chan struct{}
	drainSignal chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	pr *io.PipeReader
	pw *io.PipeWriter

	writeMu   sync.Mutex
	closeOnce sync.Once

	mu      sync.RWMutex
	pcState webrtc.PeerConnectionState
}

var _ Session = (*Peer)(nil)

// NewPeer creates a Peer backed by a new PeerConnection and a pre-negotiated
// DataChannel. The caller performs signaling through the exposed methods and
// waits on Ready before using it as a Session.
func NewPeer(ctx context.Context, id string, cfg PeerConfig) (*Peer, error) {
	pc, err := newPeerConnection(cfg)
	if err != nil {
		return nil, err
	}

	dc, err := newDataChannel(pc)
	if err != nil {
		pc.Close()
		return nil, err
	}

	pCtx, pCancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()

	p := &Peer{
		pc:          pc,
		dc:          dc,
		id:          id,
		openSignal:  make(chan struct{}),
		drainSignal: make(chan struct{}, 1),
		ctx:         pCtx,
		cancel:      pCancel,
		pr:          pr,
		pw:          pw,
		pcState:     webrtc.PeerConnectionStateNew,
	}

	// DC open gate.
	var openOnce sync.Once
	dc.OnOpen(func() {
		openOnce.Do(func() { close(p.openSignal) })
	})

	dc.OnClose(func() {
		util.Logf("session %s: DataChannel closed", ShortID(id))
		p.shutdown(io.EOF)
	})

	// Inbound messages are written into the pipe; this blocks the SCTP reader
	// until the session reader catches up.
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if _, err := pw.Write(msg.Data); err != nil {
			util.Logf("session %s: dropped inbound message: %v", ShortID(id), err)
		}
	})

	dc.SetBufferedAmountLowThreshold(uint64(lowWaterMark))
	dc.OnBufferedAmountLow(func() {
		select {
		case p.drainSignal <- struct{}{}:
		default:
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.Logf("session %s: PeerConnection state: %s", ShortID(id), state.String())
		p.mu.Lock()
		p.pcState = state
		p.mu.Unlock()

		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			p.shutdown(fmt.Errorf("peer connection %s", state))
		}
	})

	go func() {
		<-pCtx.Done()
		p.shutdown(io.EOF)
	}()

	return p, nil
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// ID returns the session ID.
func (p *Peer) ID() string { return p.id }

// Ready returns a channel that is closed when the DataChannel is open.
func (p *Peer) Ready() <-chan struct{} { return p.openSignal }

// Done returns a channel that is closed when the Peer is shut down.
func (p *Peer) Done() <-chan struct{} { return p.ctx.Done() }

// Close shuts down the DataChannel and PeerConnection.
func (p *Peer) Close() error {
	p.shutdown(io.EOF)
	return errors.Join(p.dc.Close(), p.pc.Close())
}

func (p *Peer) shutdown(cause error) {
	p.closeOnce.Do(func() {
		p.cancel()
		p.pw.CloseWithError(cause)
	})
}

// ConnectionState returns the last observed PeerConnection state.
func (p *Peer) ConnectionState() webrtc.PeerConnectionState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pcState
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// CreateOffer generates an SDP offer.
func (p *Peer) CreateOffer() (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(nil)
}

// CreateAnswer generates an SDP answer.
func (p *Peer) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

// SetLocalDescription applies the local SDP.
func (p *Peer) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(sdp)
}

// SetRemoteDescription applies the remote SDP.
func (p *Peer) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(sdp)
}

// OnICECandidate registers a callback invoked whenever a new local ICE
// candidate is gathered. A nil candidate signals the end of gathering.
func (p *Peer) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	p.pc.OnICECandidate(fn)
}

// AddICECandidate adds a remote ICE candidate received through signaling.
func (p *Peer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(candidate)
}

// ---------------------------------------------------------------------------
// Data
// ---------------------------------------------------------------------------

// Read returns inbound DataChannel bytes in order.
func (p *Peer) Read(b []byte) (int, error) { return p.pr.Read(b) }

// Write sends b as one DataChannel message. When the channel's send buffer is
// above the high watermark it waits briefly for it to drain, then reports
// ErrBusy.
func (p *Peer) Write(b []byte) (int, error) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if p.ctx.Err() != nil {
		return 0, ErrClosed
	}
	select {
	case <-p.openSignal:
	case <-p.ctx.Done():
		return 0, ErrClosed
	}

	if p.dc.BufferedAmount() > uint64(highWaterMark) {
		timer := time.NewTimer(drainTimeout)
		defer timer.Stop()

		select {
		case <-p.drainSignal:
		case <-timer.C:
			return 0, ErrBusy
		case <-p.ctx.Done():
			return 0, ErrClosed
		}
	}

	if err := p.dc.Send(b); err != nil {
		return 0, err
	}
	return len(b), nil
}
