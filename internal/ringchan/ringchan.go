// Package ringchan provides a bounded, drop-oldest channel.
package ringchan

import (
	"sync"
	"sync/atomic"
)

// RingChannel is a bounded channel-like buffer with overwrite-oldest semantics.
//
// Producers never block: when the buffer is full the oldest element is
// discarded. Consumers read from C() like a normal channel, or use Receive
// for metric tracking. Producers are serialized internally, so any number of
// goroutines may Send concurrently, and Send after Close is a counted no-op
// instead of a panic.
//
//	rc := ringchan.New[[]byte](3)
//	for i := 0; i < 10; i++ {
//	    rc.Send([]byte{byte(i)})
//	}
//	rc.Close()
//	for v := range rc.C() {
//	    fmt.Println(v) // [7] [8] [9]
//	}
type RingChannel[T any] struct {
	ch      chan T
	sendMu  sync.Mutex
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
//
// Reads from C() are not counted in Metrics.Processed.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send inserts v, discarding the oldest element if the buffer is full.
// It reports whether an element was discarded.
func (rc *RingChannel[T]) Send(v T) (dropped bool) {
	rc.sendMu.Lock()
	defer rc.sendMu.Unlock()

	if rc.closed {
		rc.metrics.addError()
		return false
	}

	for {
		select {
		case rc.ch <- v:
			rc.metrics.addWritten()
			return dropped
		default:
		}
		// Full: make room. A consumer may have drained it meanwhile, so retry.
		select {
		case <-rc.ch:
			rc.metrics.addOverwritten()
			dropped = true
		default:
		}
	}
}

// TrySend inserts v only if there is room.
func (rc *RingChannel[T]) TrySend(v T) bool {
	rc.sendMu.Lock()
	defer rc.sendMu.Unlock()

	if rc.closed {
		rc.metrics.addError()
		return false
	}
	select {
	case rc.ch <- v:
		rc.metrics.addWritten()
		return true
	default:
		return false
	}
}

// Receive blocks until a value is available or the channel is closed.
// The ok result is false if the channel is closed and drained.
func (rc *RingChannel[T]) Receive() (v T, ok bool) {
	v, ok = <-rc.ch
	if ok {
		rc.metrics.addProcessed()
	}
	return
}

// TryReceive attempts a non-blocking receive.
func (rc *RingChannel[T]) TryReceive() (v T, ok bool) {
	select {
	case v, ok = <-rc.ch:
		if ok {
			rc.metrics.addProcessed()
		}
		return
	default:
		var zero T
		return zero, false
	}
}

// Len returns the number of buffered elements.
func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

// Cap returns the channel capacity.
func (rc *RingChannel[T]) Cap() int {
	return cap(rc.ch)
}

// Close closes the channel. Buffered elements can still be received. Idempotent.
func (rc *RingChannel[T]) Close() {
	rc.sendMu.Lock()
	defer rc.sendMu.Unlock()

	if !rc.closed {
		rc.closed = true
		close(rc.ch)
	}
}

// Metrics returns a snapshot of the counters.
func (rc *RingChannel[T]) Metrics() Metrics {
	return Metrics{
		Processed:   atomic.LoadInt64(&rc.metrics.Processed),
		Written:     atomic.LoadInt64(&rc.metrics.Written),
		Overwritten: atomic.LoadInt64(&rc.metrics.Overwritten),
		Errors:      atomic.LoadInt64(&rc.metrics.Errors),
	}
}

// Metrics counts RingChannel traffic. Errors counts sends after Close.
type Metrics struct {
	Processed   int64 `json:"processed"`
	Written     int64 `json:"written"`
	Overwritten int64 `json:"overwritten"`
	Errors      int64 `json:"errors"`
}

// Add accumulates o into m.
func (m *Metrics) Add(o Metrics) {
	m.Processed += o.Processed
	m.Written += o.Written
	m.Overwritten += o.Overwritten
	m.Errors += o.Errors
}

func (m *Metrics) addProcessed()   { atomic.AddInt64(&m.Processed, 1) }
func (m *Metrics) addWritten()     { atomic.AddInt64(&m.Written, 1) }
func (m *Metrics) addOverwritten() { atomic.AddInt64(&m.Overwritten, 1) }
func (m *Metrics) addError()       { atomic.AddInt64(&m.Errors, 1) }
