package signaling

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/wifilink/internal/transport"
)

// sender serializes outgoing signaling messages to the WebSocket. Candidates
// gathered before the local description went out are held back, since the
// remote side cannot apply a candidate before the description.
type sender struct {
	peer *transport.Peer
	conn *websocket.Conn

	mu        sync.Mutex
	described bool
	pending   []message
}

// sendDescription writes an SDP message and then every held candidate.
func (s *sender) sendDescription(msg message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.conn.WriteJSON(msg); err != nil {
		return err
	}
	s.described = true

	for _, c := range s.pending {
		if err := s.conn.WriteJSON(c); err != nil {
			return err
		}
	}
	s.pending = nil
	return nil
}

// sendCandidate writes a candidate, or holds it until the description is sent.
func (s *sender) sendCandidate(msg message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.described {
		s.pending = append(s.pending, msg)
		return nil
	}
	return s.conn.WriteJSON(msg)
}

// sendOffer creates an SDP offer, sets it as local description, and sends it.
func (s *sender) sendOffer() error {
	offer, err := s.peer.CreateOffer()
	if err != nil {
		return err
	}

	if err := s.peer.SetLocalDescription(offer); err != nil {
		return err
	}

	return s.sendDescription(message{Type: msgTypeOffer, SDP: offer.SDP})
}

// sendAnswer creates an SDP answer, sets it as local description, and sends it.
func (s *sender) sendAnswer() error {
	answer, err := s.peer.CreateAnswer()
	if err != nil {
		return err
	}

	if err := s.peer.SetLocalDescription(answer); err != nil {
		return err
	}

	return s.sendDescription(message{Type: msgTypeAnswer, SDP: answer.SDP})
}

// trickle forwards every local ICE candidate. Sending is best-effort: the
// WebSocket is closed as soon as the DataChannel opens.
func (s *sender) trickle() {
	s.peer.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		data, _ := json.Marshal(c.ToJSON())
		_ = s.sendCandidate(message{Type: msgTypeCandidate, Candidate: string(data)})
	})
}
