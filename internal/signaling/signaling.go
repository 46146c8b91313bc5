// Package signaling negotiates WebRTC uplink sessions over a WebSocket. The
// bridge is always the offerer; the relay answers. All SDP/ICE details are
// internal: callers receive a Peer whose DataChannel is open.
package signaling

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/wifilink/internal/transport"
	"github.com/1ureka/wifilink/internal/util"
)

// HandshakeTimeout bounds a complete offer/answer exchange.
const HandshakeTimeout = 30 * time.Second

// NewDialer returns a transport.Dialer that opens WebRTC sessions negotiated
// through the signaling endpoint at rawURL (ws:// or wss://).
func NewDialer(rawURL string, cfg transport.PeerConfig) (transport.Dialer, error) {
	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid signaling URL %q: %w", rawURL, err)
	}
	if base.Scheme != "ws" && base.Scheme != "wss" {
		return nil, fmt.Errorf("invalid signaling URL %q: scheme must be ws or wss", rawURL)
	}

	return transport.DialerFunc(func(ctx context.Context) (transport.Session, error) {
		peer, err := Offer(ctx, base, cfg)
		if err != nil {
			return nil, err
		}
		return peer, nil
	}), nil
}

// Offer executes the offerer side of the exchange:
//  1. Connect to the signaling endpoint
//  2. Create a Peer and send the offer
//  3. Apply the answer and trickled ICE candidates
//  4. Wait for the DataChannel to open, then close the WebSocket
//
// The returned Peer outlives ctx; it is closed by the caller.
func Offer(ctx context.Context, base *url.URL, cfg transport.PeerConfig) (*transport.Peer, error) {
	ctx, cancel := context.WithTimeout(ctx, HandshakeTimeout)
	defer cancel()

	id := transport.NewSessionID()
	wsConn, err := connect(ctx, base, id)
	if err != nil {
		return nil, err
	}
	defer wsConn.Close()
	util.Logf("session %s: signaling connected to %s", transport.ShortID(id), base.Host)

	peer, err := transport.NewPeer(context.Background(), id, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer: %w", err)
	}

	s := &sender{peer: peer, conn: wsConn}
	r := &receiver{peer: peer, conn: wsConn, sender: s}
	s.trickle()

	errCh := make(chan error, 1)
	go func() {
		errCh <- r.watch() // exits when wsConn is closed (deferred above)
	}()

	if err := s.sendOffer(); err != nil {
		peer.Close()
		return nil, fmt.Errorf("failed to send offer: %w", err)
	}

	return await(ctx, peer, errCh)
}

// Answer executes the answerer side over an already upgraded WebSocket: it
// waits for the offer, answers it and returns once the DataChannel is open.
// The WebSocket is closed before returning.
func Answer(ctx context.Context, wsConn *websocket.Conn, id string, cfg transport.PeerConfig) (*transport.Peer, error) {
	ctx, cancel := context.WithTimeout(ctx, HandshakeTimeout)
	defer cancel()
	defer wsConn.Close()

	peer, err := transport.NewPeer(context.Background(), id, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer: %w", err)
	}

	s := &sender{peer: peer, conn: wsConn}
	r := &receiver{peer: peer, conn: wsConn, sender: s}
	s.trickle()

	errCh := make(chan error, 1)
	go func() {
		errCh <- r.watch()
	}()

	return await(ctx, peer, errCh)
}

func await(ctx context.Context, peer *transport.Peer, errCh <-chan error) (*transport.Peer, error) {
	select {
	case <-peer.Ready():
		util.Logf("session %s: DataChannel established, closing signaling", transport.ShortID(peer.ID()))
		return peer, nil

	case err := <-errCh:
		// The WebSocket may have been closed by the peer right after the
		// DataChannel opened.
		select {
		case <-peer.Ready():
			return peer, nil
		default:
		}
		peer.Close()
		return nil, fmt.Errorf("signaling failed: %w", err)

	case <-peer.Done():
		peer.Close()
		return nil, fmt.Errorf("signaling failed: %w", transport.ErrClosed)

	case <-ctx.Done():
		peer.Close()
		return nil, ctx.Err()
	}
}
