// Package protocol defines the bridged packet type and the framing used to carry
// Ethernet frames over the uplink session.
package protocol

import (
	"fmt"
	"time"
)

// MaxFrameSize is the largest Ethernet frame the bridge carries (the Ethernet MTU).
const MaxFrameSize = 1500

// Direction tags which pipeline a packet travels through.
type Direction uint8

const (
	ToWifi Direction = iota + 1 // captured on USB, bound for the uplink
	ToUSB                       // decoded from the uplink, bound for the host
)

func (d Direction) String() string {
	switch d {
	case ToWifi:
		return "usb->wifi"
	case ToUSB:
		return "wifi->usb"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// Packet is one Ethernet frame in flight between the two links.
// The payload must not be modified once the packet has been built.
type Packet struct {
	Payload  []byte    // raw Ethernet frame, 1..MaxFrameSize bytes
	Captured time.Time // when the frame was received from its link
	Dir      Direction
}

// NewPacket copies frame into a new Packet stamped with the current time.
func NewPacket(frame []byte, dir Direction) (Packet, error) {
	if err := CheckSize(frame); err != nil {
		return Packet{}, err
	}
	payload := make([]byte, len(frame))
	copy(payload, frame)
	return Packet{Payload: payload, Captured: time.Now(), Dir: dir}, nil
}

// Len returns the payload length.
func (p Packet) Len() int { return len(p.Payload) }

// CheckSize rejects empty and oversized frames.
func CheckSize(frame []byte) error {
	if len(frame) == 0 {
		return ErrEmptyFrame
	}
	if len(frame) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrInvalidSize, len(frame), MaxFrameSize)
	}
	return nil
}
