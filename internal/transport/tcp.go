package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/1ureka/wifilink/internal/util"
)

// tcpSession is a plain TCP uplink session.
type tcpSession struct {
	net.Conn
	id string
}

func (s *tcpSession) ID() string { return s.id }

// Write maps a write timeout to ErrBusy only when nothing was written. A
// timeout after a partial write leaves a truncated frame in the stream, so it
// is reported as ErrPartialWrite and the session must be replaced.
func (s *tcpSession) Write(p []byte) (int, error) {
	if err := s.Conn.SetWriteDeadline(time.Now().Add(DefaultWriteTimeout)); err != nil {
		return 0, err
	}
	n, err := s.Conn.Write(p)
	if err != nil && isTimeout(err) {
		if n == 0 {
			return 0, fmt.Errorf("%w: %v", ErrBusy, err)
		}
		return n, fmt.Errorf("%w: %d of %d bytes: %v", ErrPartialWrite, n, len(p), err)
	}
	return n, err
}

// NewTCPSession wraps an established connection, as accepted by the relay.
func NewTCPSession(conn net.Conn, id string) Session {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
		_ = tc.SetKeepAlivePeriod(10 * time.Second)
	}
	return &tcpSession{Conn: conn, id: id}
}

// NewTCPDialer dials addr (host:port) for every session.
func NewTCPDialer(addr string) Dialer {
	return DialerFunc(func(ctx context.Context) (Session, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("failed to dial uplink %s: %w", addr, err)
		}
		id := NewSessionID()
		util.Logf("tcp uplink session %s to %s", ShortID(id), addr)
		return NewTCPSession(conn, id), nil
	})
}
