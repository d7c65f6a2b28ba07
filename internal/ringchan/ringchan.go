// Package ringchan provides a bounded, never-blocking channel for fan-out of
// notifications from an event loop to slower consumers.
package ringchan

import (
	"sync"
	"sync/atomic"
)

// RingChannel is a bounded channel-like buffer with overwrite-oldest semantics.
//
// Producers never block: when the buffer is full the oldest element is
// discarded. Consumers read from C() like a normal channel. Sending after
// Close is a no-op rather than a panic, so a producer racing shutdown is safe.
//
//	rc := ringchan.New[int](3)
//	for i := 0; i < 10; i++ {
//	    rc.Send(i)
//	}
//	rc.Close()
//	for v := range rc.C() {
//	    fmt.Println(v) // 7, 8, 9
//	}
type RingChannel[T any] struct {
	mu      sync.Mutex
	ch      chan T
	closed  bool
	metrics Metrics
}

// New creates a RingChannel with the given capacity.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel. It is closed by Close.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send inserts v, discarding the oldest element if full. It reports whether
// an element was dropped. After Close it does nothing and returns false.
func (rc *RingChannel[T]) Send(v T) (dropped bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.closed {
		return false
	}

	for {
		select {
		case rc.ch <- v:
			atomic.AddInt64(&rc.metrics.Written, 1)
			return dropped
		default:
		}
		select {
		case <-rc.ch:
			atomic.AddInt64(&rc.metrics.Overwritten, 1)
			dropped = true
		default:
		}
	}
}

func (rc *RingChannel[T]) Len() int { return len(rc.ch) }
func (rc *RingChannel[T]) Cap() int { return cap(rc.ch) }

// Close closes the channel. Buffered values remain readable. Idempotent.
func (rc *RingChannel[T]) Close() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if !rc.closed {
		rc.closed = true
		close(rc.ch)
	}
}

// Metrics returns a snapshot of the counters.
func (rc *RingChannel[T]) Metrics() Metrics {
	return Metrics{
		Written:     atomic.LoadInt64(&rc.metrics.Written),
		Overwritten: atomic.LoadInt64(&rc.metrics.Overwritten),
	}
}

// Metrics counts traffic through a RingChannel.
type Metrics struct {
	Written     int64
	Overwritten int64
}
