package testutils

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/srg/myoctl/internal/device"
)

// Write is one outbound operation observed by FakeConnection.
type Write struct {
	Handle    uint16
	Data      []byte
	Subscribe bool
}

func (w Write) String() string {
	kind := "write"
	if w.Subscribe {
		kind = "subscribe"
	}
	return fmt.Sprintf("%s 0x%02x %x", kind, w.Handle, w.Data)
}

// FakeConnection is an in-memory device.Connection. It records writes and
// subscriptions in order, serves reads from Values and lets tests inject
// notifications or drop the link.
type FakeConnection struct {
	mu      sync.Mutex
	address string
	handler device.NotificationHandler
	writes  []Write

	// Values are returned by ReadCharacteristic, keyed by handle.
	Values map[uint16][]byte
	// Errors fail reads, writes and subscriptions on the given handle.
	Errors map[uint16]error
	// WriteDelay is slept inside every write, which widens overlap windows in
	// concurrency tests.
	WriteDelay time.Duration
	// CloseErr is returned by Close.
	CloseErr error

	inFlight    atomic.Int32
	maxInFlight atomic.Int32

	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
}

// NewFakeConnection creates a connected fake.
func NewFakeConnection() *FakeConnection {
	return &FakeConnection{
		Values: make(map[uint16][]byte),
		Errors: make(map[uint16]error),
		done:   make(chan struct{}),
	}
}

func (f *FakeConnection) attach(address string, handler device.NotificationHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.address = address
	f.handler = handler
}

func (f *FakeConnection) Address() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.address
}

func (f *FakeConnection) ReadCharacteristic(handle uint16) ([]byte, error) {
	if f.closed.Load() {
		return nil, device.ErrNotConnected
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errors[handle]; err != nil {
		return nil, err
	}
	v, ok := f.Values[handle]
	if !ok {
		return nil, &device.NotFoundError{Resource: "characteristic", Handle: handle}
	}
	return append([]byte(nil), v...), nil
}

func (f *FakeConnection) record(w Write) error {
	if f.closed.Load() {
		return device.ErrNotConnected
	}

	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	if f.WriteDelay > 0 {
		time.Sleep(f.WriteDelay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errors[w.Handle]; err != nil {
		return err
	}
	w.Data = append([]byte(nil), w.Data...)
	f.writes = append(f.writes, w)
	return nil
}

func (f *FakeConnection) WriteCharacteristic(handle uint16, data []byte) error {
	return f.record(Write{Handle: handle, Data: data})
}

func (f *FakeConnection) Subscribe(configHandle uint16, enable []byte) error {
	return f.record(Write{Handle: configHandle, Data: enable, Subscribe: true})
}

func (f *FakeConnection) Disconnected() <-chan struct{} {
	return f.done
}

// Close marks the connection closed and returns CloseErr. Idempotent.
func (f *FakeConnection) Close() error {
	f.Drop()
	return f.CloseErr
}

// Drop simulates a link loss initiated by the peer.
func (f *FakeConnection) Drop() {
	f.closeOnce.Do(func() {
		f.closed.Store(true)
		close(f.done)
	})
}

// Closed reports whether Close or Drop was called.
func (f *FakeConnection) Closed() bool {
	return f.closed.Load()
}

// Notify delivers a notification through the handler registered at Connect.
func (f *FakeConnection) Notify(handle uint16, data []byte) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h(handle, data)
	}
}

// Writes returns the recorded writes in order.
func (f *FakeConnection) Writes() []Write {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Write(nil), f.writes...)
}

// MaxConcurrentWrites returns the highest number of writes observed in flight at once.
func (f *FakeConnection) MaxConcurrentWrites() int {
	return int(f.maxInFlight.Load())
}
