package transport

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/wifilink/internal/util"
)

// wsSession carries the uplink byte stream in binary WebSocket messages.
// Gorilla allows one concurrent reader and one concurrent writer, so reads and
// writes take separate locks.
type wsSession struct {
	ws *websocket.Conn
	id string

	readMu     sync.Mutex
	currReader io.Reader

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// NewWebSocketSession wraps an established WebSocket connection.
func NewWebSocketSession(ws *websocket.Conn, id string) Session {
	return &wsSession{ws: ws, id: id}
}

func (s *wsSession) ID() string { return s.id }

func (s *wsSession) Read(b []byte) (int, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	for {
		if s.currReader == nil {
			mt, r, err := s.ws.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			if mt != websocket.BinaryMessage {
				return 0, fmt.Errorf("unexpected websocket message type %d", mt)
			}
			s.currReader = r
		}

		n, err := s.currReader.Read(b)
		if err == io.EOF {
			s.currReader = nil
			err = nil
		}
		if n > 0 || err != nil {
			return n, err
		}
	}
}

func (s *wsSession) Write(b []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.ws.SetWriteDeadline(time.Now().Add(DefaultWriteTimeout)); err != nil {
		return 0, err
	}
	if err := s.ws.WriteMessage(websocket.BinaryMessage, b); err != nil {
		if isTimeout(err) {
			return 0, fmt.Errorf("%w: %v", ErrBusy, err)
		}
		return 0, err
	}
	return len(b), nil
}

// Close sends a close frame so the peer sees a clean end of stream.
func (s *wsSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "EOF")
		_ = s.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		s.writeMu.Unlock()
		err = s.ws.Close()
	})
	return err
}

// NewWebSocketDialer dials rawURL (ws:// or wss://) for every session. The
// session ID is sent as a query parameter.
func NewWebSocketDialer(rawURL string) (Dialer, error) {
	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid uplink URL %q: %w", rawURL, err)
	}
	if base.Scheme != "ws" && base.Scheme != "wss" {
		return nil, fmt.Errorf("invalid uplink URL %q: scheme must be ws or wss", rawURL)
	}

	return DialerFunc(func(ctx context.Context) (Session, error) {
		id := NewSessionID()
		u := *base
		q := u.Query()
		q.Set(SessionQueryKey, id)
		u.RawQuery = q.Encode()

		ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to uplink %s: %w", base.Host, err)
		}
		util.Logf("websocket uplink session %s to %s", ShortID(id), base.Host)
		return NewWebSocketSession(ws, id), nil
	}), nil
}
