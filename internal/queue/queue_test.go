package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/1ureka/wifilink/internal/protocol"
)

func mustPacket(t *testing.T, seq int) protocol.Packet {
	t.Helper()
	pkt, err := protocol.NewPacket([]byte{byte(seq >> 8), byte(seq)}, protocol.ToWifi)
	if err != nil {
		t.Fatalf("NewPacket: %v", err)
	}
	return pkt
}

func seqOf(pkt protocol.Packet) int {
	return int(pkt.Payload[0])<<8 | int(pkt.Payload[1])
}

// TestFIFOOrder enqueues distinguishable packets and checks they come back in order.
func TestFIFOOrder(t *testing.T) {
	const n = 64
	q, err := New(n)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := 0; i < n; i++ {
		if err := q.Enqueue(mustPacket(t, i), 0); err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
	}

	ctx := context.Background()
	for i := 0; i < n; i++ {
		pkt, err := q.Dequeue(ctx, 0)
		if err != nil {
			t.Fatalf("Dequeue %d: %v", i, err)
		}
		if got := seqOf(pkt); got != i {
			t.Fatalf("Dequeue %d returned packet %d", i, got)
		}
	}
}

// TestFIFOConcurrentProducerConsumer keeps order while a consumer runs alongside.
func TestFIFOConcurrentProducerConsumer(t *testing.T) {
	const n = 2000
	q, _ := New(4)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			for {
				err := q.Enqueue(mustPacket(t, i), 50*time.Millisecond)
				if err == nil {
					break
				}
				if !errors.Is(err, ErrFull) {
					t.Errorf("Enqueue %d: %v", i, err)
					return
				}
			}
		}
	}()

	for i := 0; i < n; i++ {
		pkt, err := q.Dequeue(ctx, Forever)
		if err != nil {
			t.Fatalf("Dequeue %d: %v", i, err)
		}
		if got := seqOf(pkt); got != i {
			t.Fatalf("position %d holds packet %d", i, got)
		}
	}
	wg.Wait()
}

// TestBackpressure fills the queue, checks the extra enqueue fails, then frees a slot.
func TestBackpressure(t *testing.T) {
	const capacity = 10
	q, _ := New(capacity)

	for i := 0; i < capacity; i++ {
		if err := q.Enqueue(mustPacket(t, i), 10*time.Millisecond); err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
	}

	start := time.Now()
	err := q.Enqueue(mustPacket(t, capacity), 20*time.Millisecond)
	if !errors.Is(err, ErrFull) {
		t.Fatalf("Enqueue beyond capacity = %v, want ErrFull", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("Enqueue gave up after %v, before its timeout", elapsed)
	}
	if q.Len() != capacity {
		t.Errorf("Len = %d, want %d", q.Len(), capacity)
	}

	first, err := q.Dequeue(context.Background(), 0)
	if err != nil || seqOf(first) != 0 {
		t.Fatalf("Dequeue = (%d, %v), want (0, nil)", seqOf(first), err)
	}
	if err := q.Enqueue(mustPacket(t, capacity), 0); err != nil {
		t.Fatalf("Enqueue after dequeue: %v", err)
	}
}

// TestEnqueueWaitsForSpace checks a blocked producer succeeds once space frees up.
func TestEnqueueWaitsForSpace(t *testing.T) {
	q, _ := New(1)
	_ = q.Enqueue(mustPacket(t, 1), 0)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = q.Dequeue(context.Background(), 0)
	}()

	if err := q.Enqueue(mustPacket(t, 2), time.Second); err != nil {
		t.Fatalf("Enqueue = %v, want success once a slot frees", err)
	}
}

func TestDequeueTimeoutAndCancel(t *testing.T) {
	q, _ := New(2)

	if _, err := q.Dequeue(context.Background(), 0); !errors.Is(err, ErrEmpty) {
		t.Errorf("non-blocking Dequeue = %v, want ErrEmpty", err)
	}
	if _, err := q.Dequeue(context.Background(), 10*time.Millisecond); !errors.Is(err, ErrEmpty) {
		t.Errorf("timed Dequeue = %v, want ErrEmpty", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	if _, err := q.Dequeue(ctx, Forever); !errors.Is(err, context.Canceled) {
		t.Errorf("Dequeue after cancel = %v, want context.Canceled", err)
	}
}

func TestCloseAndDrain(t *testing.T) {
	q, _ := New(3)
	_ = q.Enqueue(mustPacket(t, 1), 0)
	_ = q.Enqueue(mustPacket(t, 2), 0)

	errCh := make(chan error, 1)
	empty, _ := New(1)
	go func() {
		_, err := empty.Dequeue(context.Background(), Forever)
		errCh <- err
	}()
	empty.Close()
	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("blocked Dequeue after Close = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not wake a blocked consumer")
	}

	q.Close()
	if err := q.Enqueue(mustPacket(t, 3), 0); !errors.Is(err, ErrClosed) {
		t.Errorf("Enqueue after Close = %v, want ErrClosed", err)
	}
	if n := q.Drain(); n != 2 {
		t.Errorf("Drain = %d, want 2", n)
	}
	if q.Len() != 0 {
		t.Errorf("Len after Drain = %d", q.Len())
	}
}

func TestNewRejectsBadCapacity(t *testing.T) {
	for _, c := range []int{0, -1} {
		if _, err := New(c); err == nil {
			t.Errorf("New(%d) succeeded", c)
		}
	}
}
