package transport

import (
	"github.com/pion/webrtc/v4"
)

// PeerConfig configures the PeerConnection behind a WebRTC session.
type PeerConfig struct {
	// STUNServers are used for ICE. No TURN: the bridge and the relay are
	// expected to reach each other directly.
	STUNServers []string

	// API replaces pion's default API, for example one built from a
	// SettingEngine that restricts ICE candidates. Nil means the default.
	API *webrtc.API
}

// newPeerConnection creates a PeerConnection from cfg.
func newPeerConnection(cfg PeerConfig) (*webrtc.PeerConnection, error) {
	config := webrtc.Configuration{}
	if len(cfg.STUNServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: cfg.STUNServers}}
	}
	if cfg.API != nil {
		return cfg.API.NewPeerConnection(config)
	}
	return webrtc.NewPeerConnection(config)
}

// newDataChannel creates a pre-negotiated, ordered and reliable DataChannel.
// Negotiated mode (ID 0) lets both sides create the channel independently
// without relying on OnDataChannel. The uplink framing needs an ordered byte
// stream, so unlike a multiplexed tunnel the channel is ordered.
func newDataChannel(pc *webrtc.PeerConnection) (*webrtc.DataChannel, error) {
	ordered := true
	negotiated := true
	id := uint16(0)

	return pc.CreateDataChannel("uplink", &webrtc.DataChannelInit{
		Ordered:    &ordered,
		Negotiated: &negotiated,
		ID:         &id,
	})
}
