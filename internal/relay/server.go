package relay

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/1ureka/wifilink/internal/signaling"
	"github.com/1ureka/wifilink/internal/transport"
	"github.com/1ureka/wifilink/internal/util"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler serves WebSocket sessions on /ws and WebRTC signaling on /signal.
// Sessions live until they fail or ctx is cancelled.
func (r *Relay) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
		ws, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		_ = r.Serve(ctx, transport.NewWebSocketSession(ws, sessionID(req)))
	})
	mux.HandleFunc("/signal", func(w http.ResponseWriter, req *http.Request) {
		ws, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		id := sessionID(req)
		peer, err := signaling.Answer(ctx, ws, id, r.webrtc)
		if err != nil {
			util.LogWarning("session %s: %v", transport.ShortID(id), err)
			return
		}
		go r.Serve(ctx, peer)
	})
	return mux
}

// ServeTCP accepts raw TCP sessions on ln until ctx is cancelled.
func (r *Relay) ServeTCP(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go r.Serve(ctx, transport.NewTCPSession(conn, transport.NewSessionID()))
	}
}

func sessionID(req *http.Request) string {
	if id := req.URL.Query().Get(transport.SessionQueryKey); id != "" {
		return id
	}
	return transport.NewSessionID()
}
