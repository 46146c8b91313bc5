// Package queue provides the bounded FIFO used by both bridge pipelines.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/1ureka/wifilink/internal/protocol"
)

// Forever makes Dequeue wait until the context is cancelled or the queue is closed.
const Forever time.Duration = -1

var (
	ErrFull   = errors.New("queue full")
	ErrEmpty  = errors.New("queue empty")
	ErrClosed = errors.New("queue closed")
)

// Queue is a bounded FIFO of packets. Producers never wait longer than the
// timeout they pass to Enqueue; items are never overwritten.
type Queue struct {
	items chan protocol.Packet
	done  chan struct{}
	once  sync.Once
}

// New creates a queue holding at most capacity packets.
func New(capacity int) (*Queue, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("invalid queue capacity %d", capacity)
	}
	return &Queue{
		items: make(chan protocol.Packet, capacity),
		done:  make(chan struct{}),
	}, nil
}

// Enqueue appends pkt, waiting up to timeout for space. A timeout <= 0 makes a
// single non-blocking attempt. Returns ErrFull if no space became available.
func (q *Queue) Enqueue(pkt protocol.Packet, timeout time.Duration) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}

	select {
	case q.items <- pkt:
		return nil
	default:
	}
	if timeout <= 0 {
		return ErrFull
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case q.items <- pkt:
		return nil
	case <-timer.C:
		return ErrFull
	case <-q.done:
		return ErrClosed
	}
}

// Dequeue removes the oldest packet, waiting up to timeout for one to arrive.
// Pass Forever to wait until ctx is done. Returns ErrEmpty on timeout.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (protocol.Packet, error) {
	select {
	case pkt := <-q.items:
		return pkt, nil
	default:
	}

	var expired <-chan time.Time
	switch {
	case timeout == 0:
		return protocol.Packet{}, ErrEmpty
	case timeout > 0:
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case pkt := <-q.items:
		return pkt, nil
	case <-expired:
		return protocol.Packet{}, ErrEmpty
	case <-q.done:
		return protocol.Packet{}, ErrClosed
	case <-ctx.Done():
		return protocol.Packet{}, ctx.Err()
	}
}

// Drain discards every queued packet and returns how many were dropped.
func (q *Queue) Drain() int {
	n := 0
	for {
		select {
		case <-q.items:
			n++
		default:
			return n
		}
	}
}

// Len returns the number of queued packets.
func (q *Queue) Len() int { return len(q.items) }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return cap(q.items) }

// Close wakes blocked callers; later Enqueue calls fail with ErrClosed.
// Packets still queued can be drained.
func (q *Queue) Close() {
	q.once.Do(func() { close(q.done) })
}
