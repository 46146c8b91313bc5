package bridge

import (
	"errors"

	"github.com/1ureka/wifilink/internal/protocol"
	"github.com/1ureka/wifilink/internal/queue"
)

var (
	// ErrInvalidArgument rejects missing adapters and empty frames.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInvalidSize rejects frames above the 1500 byte MTU.
	ErrInvalidSize = protocol.ErrInvalidSize
	// ErrNotConnected rejects frames for the uplink while it is not Connected.
	ErrNotConnected = errors.New("uplink not connected")
	// ErrQueueFull reports backpressure: the frame was dropped.
	ErrQueueFull = queue.ErrFull
	// ErrAllocation reports a resource that could not be set up at startup.
	ErrAllocation = errors.New("allocation failure")
)
