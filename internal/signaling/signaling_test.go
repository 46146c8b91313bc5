package signaling

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/ice/v4"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/wifilink/internal/protocol"
	"github.com/1ureka/wifilink/internal/transport"
)

// loopbackConfig restricts ICE to host candidates on the loopback interface
// so both peers can negotiate inside the test process.
func loopbackConfig() transport.PeerConfig {
	var se webrtc.SettingEngine
	se.SetIncludeLoopbackCandidate(true)
	se.SetIPFilter(func(ip net.IP) bool { return ip.IsLoopback() })
	se.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4})
	se.SetICEMulticastDNSMode(ice.MulticastDNSModeDisabled)
	return transport.PeerConfig{API: webrtc.NewAPI(webrtc.WithSettingEngine(se))}
}

// answeringServer runs Answer for every connection and publishes the peers.
func answeringServer(t *testing.T, ctx context.Context) (*httptest.Server, <-chan *transport.Peer) {
	t.Helper()
	peers := make(chan *transport.Peer, 4)
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		peer, err := Answer(ctx, ws, r.URL.Query().Get(transport.SessionQueryKey), loopbackConfig())
		if err != nil {
			return
		}
		peers <- peer
	}))
	return srv, peers
}

func signalURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/signal"
}

// connectedPair negotiates a session and returns the offerer and answerer ends.
func connectedPair(t *testing.T) (*transport.Peer, *transport.Peer) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	t.Cleanup(cancel)

	srv, peers := answeringServer(t, ctx)
	t.Cleanup(srv.Close)

	dialer, err := NewDialer(signalURL(srv), loopbackConfig())
	if err != nil {
		t.Fatalf("NewDialer: %v", err)
	}
	s, err := dialer.Dial(ctx)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	offerer := s.(*transport.Peer)
	t.Cleanup(func() { offerer.Close() })

	select {
	case answerer := <-peers:
		t.Cleanup(func() { answerer.Close() })
		return offerer, answerer
	case <-ctx.Done():
		t.Fatal("answerer never became ready")
		return nil, nil
	}
}

func TestOfferAnswerRoundTrip(t *testing.T) {
	offerer, answerer := connectedPair(t)

	if offerer.ID() != answerer.ID() {
		t.Errorf("session IDs differ: %q vs %q", offerer.ID(), answerer.ID())
	}

	up := bytes.Repeat([]byte{0x5A}, protocol.MaxFrameSize)
	if err := protocol.WriteFrame(offerer, up); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	got, err := protocol.NewFrameReader(answerer).ReadFrame()
	if err != nil || !bytes.Equal(got, up) {
		t.Fatalf("answerer read %d bytes, %v", len(got), err)
	}

	down := bytes.Repeat([]byte{0x21}, 60)
	if err := protocol.WriteFrame(answerer, down); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	got, err = protocol.NewFrameReader(offerer).ReadFrame()
	if err != nil || !bytes.Equal(got, down) {
		t.Fatalf("offerer read %d bytes, %v", len(got), err)
	}
}

// TestWriteReportsBusyWhenPeerStalls never reads on the answering side, so
// the offerer's send buffer fills past the high watermark.
func TestWriteReportsBusyWhenPeerStalls(t *testing.T) {
	offerer, _ := connectedPair(t)

	frame := bytes.Repeat([]byte{0x77}, protocol.MaxFrameSize)
	deadline := time.Now().Add(15 * time.Second)
	for i := 0; ; i++ {
		_, err := offerer.Write(frame)
		if errors.Is(err, transport.ErrBusy) {
			return
		}
		if err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		if time.Now().After(deadline) {
			t.Fatalf("no ErrBusy after %d writes", i)
		}
	}
}

func TestCloseEndsRemoteRead(t *testing.T) {
	offerer, answerer := connectedPair(t)

	done := make(chan error, 1)
	go func() {
		_, err := answerer.Read(make([]byte, 64))
		done <- err
	}()
	offerer.Close()

	select {
	case err := <-done:
		if err == nil {
			t.Error("Read returned data after the remote closed")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("remote Close did not end the session")
	}

	if _, err := offerer.Write([]byte{1}); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("Write after Close = %v, want ErrClosed", err)
	}
}

// TestAnswerSendsDescriptionFirst checks the answerer's trickled candidates
// never overtake its answer.
func TestAnswerSendsDescriptionFirst(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	srv, _ := answeringServer(t, ctx)
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, signalURL(srv), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	peer, err := transport.NewPeer(ctx, "ordering", loopbackConfig())
	if err != nil {
		t.Fatalf("NewPeer: %v", err)
	}
	defer peer.Close()

	offer, err := peer.CreateOffer()
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if err := peer.SetLocalDescription(offer); err != nil {
		t.Fatalf("SetLocalDescription: %v", err)
	}
	if err := ws.WriteJSON(message{Type: msgTypeOffer, SDP: offer.SDP}); err != nil {
		t.Fatalf("send offer: %v", err)
	}

	var first message
	if err := ws.ReadJSON(&first); err != nil {
		t.Fatalf("read: %v", err)
	}
	if first.Type != msgTypeAnswer {
		t.Fatalf("first message is %q, want %q", first.Type, msgTypeAnswer)
	}
}

func TestOfferFailsWhenSignalingCloses(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ws.Close()
	}))
	defer srv.Close()

	dialer, _ := NewDialer(signalURL(srv), loopbackConfig())
	start := time.Now()
	if _, err := dialer.Dial(context.Background()); err == nil {
		t.Fatal("Dial succeeded without an answer")
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("Dial took %v to notice the closed signaling channel", elapsed)
	}
}

func TestNewDialerRejectsBadScheme(t *testing.T) {
	for _, raw := range []string{"http://relay/signal", "relay:80", "::"} {
		if _, err := NewDialer(raw, transport.PeerConfig{}); err == nil {
			t.Errorf("NewDialer(%q) succeeded", raw)
		}
	}
}
