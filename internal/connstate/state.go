// Package connstate owns the lifecycle of the WiFi uplink: association,
// reconnection with bounded retries, and the gate that decides whether the
// bridge may send towards the wireless side.
package connstate

import "fmt"

// State is the connection state of the uplink.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Retrying
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Retrying:
		return "Retrying"
	case Failed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// transitions lists every edge the machine may take, apart from the
// "any state -> Disconnected" edge of an explicit disconnect.
var transitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Connected, Retrying},
	Connected:    {Retrying, Connecting},
	Retrying:     {Connecting, Failed},
	Failed:       {Connecting},
}

// CanTransition reports whether the machine may move from one state to another.
func CanTransition(from, to State) bool {
	if to == Disconnected {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
