package signaling

import (
	"context"
	"fmt"
	"net/url"

	"github.com/gorilla/websocket"

	"github.com/1ureka/wifilink/internal/transport"
)

// connect dials the relay's signaling endpoint, announcing the session ID.
func connect(ctx context.Context, base *url.URL, sessionID string) (*websocket.Conn, error) {
	u := *base
	q := u.Query()
	q.Set(transport.SessionQueryKey, sessionID)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to signaling server %s: %w", base.Host, err)
	}
	return conn, nil
}
