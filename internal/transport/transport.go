// Package transport provides the uplink session: the single connection-oriented
// byte stream carried over the WiFi association to the relay. Sessions run
// over TCP, WebSocket or a WebRTC DataChannel.
package transport

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
)

// ErrBusy is returned by Write when the session is temporarily unable to
// accept more data. The caller may drop the data and try again later.
var ErrBusy = errors.New("uplink session busy")

// ErrPartialWrite is returned by Write when only part of the data reached the
// stream. The peer's framing is now out of step, so the session is unusable.
var ErrPartialWrite = errors.New("uplink session write interrupted")

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("uplink session closed")

// Session is an established uplink session. Read and Write may be used from
// different goroutines, but not concurrently with themselves.
type Session interface {
	io.ReadWriteCloser
	// ID identifies the session in logs on both ends.
	ID() string
}

// Dialer opens uplink sessions.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context) (Session, error)

func (f DialerFunc) Dial(ctx context.Context) (Session, error) { return f(ctx) }

// DefaultWriteTimeout bounds a single session write. A write that cannot
// complete in time reports ErrBusy.
const DefaultWriteTimeout = time.Second

// SessionQueryKey is the URL query parameter carrying the session ID.
const SessionQueryKey = "session"

// NewSessionID returns a fresh random session ID.
func NewSessionID() string { return uuid.NewString() }

// ShortID trims a session ID for log lines.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// isTimeout reports whether err is a write deadline expiry.
func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
