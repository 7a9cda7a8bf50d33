package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"github.com/srg/myoctl/internal/device"
	"github.com/srg/myoctl/internal/groutine"
	"github.com/srg/myoctl/internal/protocol"
	"github.com/srg/myoctl/scanner"
)

// Configuration is what Configure writes to the device.
type Configuration struct {
	Subscriptions []protocol.Endpoint
	Mode          protocol.OperatingMode
}

// Session owns one device connection from discovery until disconnection.
type Session struct {
	id        string
	transport device.Transport
	scanner   *scanner.Scanner
	logger    *logrus.Logger
	opts      Options

	mu          sync.Mutex // guards the fields below
	state       State
	conn        device.Connection
	address     string
	mode        protocol.OperatingMode
	subscribed  []protocol.Endpoint
	watchCancel context.CancelFunc

	writeMu sync.Mutex // one outbound request in flight
	stream  atomic.Pointer[Stream]
}

// New creates a disconnected session. A nil opts uses DefaultOptions.
func New(transport device.Transport, opts *Options, logger *logrus.Logger) *Session {
	if logger == nil {
		logger = logrus.New()
	}
	if opts == nil {
		opts = DefaultOptions()
	}
	o := *opts
	defaults := DefaultOptions()
	if o.QueueSize <= 0 {
		o.QueueSize = defaults.QueueSize
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = defaults.ConnectTimeout
	}

	return &Session{
		id:        newID(time.Now()),
		transport: transport,
		logger:    logger,
		opts:      o,
		scanner: scanner.New(transport, &scanner.Options{
			Window:           o.ScanWindow,
			Timeout:          o.DiscoveryTimeout,
			FailureThreshold: o.ScanFailureThreshold,
			Cooldown:         o.ScanCooldown,
		}, logger),
	}
}

func newID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)).String()
}

// ID identifies the session in logs and recordings.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Address returns the connected device address, empty when disconnected.
func (s *Session) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.address
}

// Mode returns the last operating mode written to the device.
func (s *Session) Mode() protocol.OperatingMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (s *Session) log() *logrus.Entry {
	return s.logger.WithField("session", s.id)
}

// transition moves to next if the session is in one of the from states.
func (s *Session) transition(op string, next State, from ...State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range from {
		if s.state == f {
			s.log().WithFields(logrus.Fields{
				"from": s.state.String(),
				"to":   next.String(),
			}).Debug("Session state changed")
			s.state = next
			return nil
		}
	}
	return stateError(op, s.state, from...)
}

// Connect discovers the device and connects to it. An empty address scans for
// the service signature; otherwise discovery waits for that address.
// Discovery honors ctx cancellation and the DiscoveryTimeout option.
func (s *Session) Connect(ctx context.Context, address string) error {
	if err := s.transition("connect", Discovering, Disconnected); err != nil {
		return err
	}

	adv, err := s.scanner.Discover(ctx, address)
	if err != nil {
		s.setDisconnected()
		if errors.Is(err, ErrDiscoveryTimeout) || errors.Is(err, ErrDiscoveryCancelled) {
			return err
		}
		return &TransportError{Op: "scan", Err: err}
	}

	connCtx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	defer cancel()

	log := s.log().WithField("address", adv.Address)
	log.Info("Connecting...")
	conn, err := s.transport.Connect(connCtx, adv.Address, s.onNotification)
	if err != nil {
		s.setDisconnected()
		log.WithError(err).Error("Connection failed")
		return &TransportError{Op: "connect", Err: err}
	}

	if s.opts.SettleDelay > 0 {
		select {
		case <-ctx.Done():
			_ = conn.Close()
			s.setDisconnected()
			return fmt.Errorf("connect: %w", ctx.Err())
		case <-time.After(s.opts.SettleDelay):
		}
	}

	watchCtx, watchCancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.conn = conn
	s.address = adv.Address
	s.state = Connected
	s.watchCancel = watchCancel
	s.mu.Unlock()

	groutine.Go(watchCtx, "session-link-watch", func(ctx context.Context) {
		select {
		case <-ctx.Done():
		case <-conn.Disconnected():
			s.linkLost(conn)
		}
	})

	log.Info("Connected")
	return nil
}

func (s *Session) setDisconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Disconnected
}

// Configure subscribes to the requested endpoints, in canonical order, and
// writes the operating mode. Every value is validated before the first write.
// A failed write disconnects the session.
func (s *Session) Configure(ctx context.Context, cfg Configuration) error {
	if err := cfg.Mode.Validate(); err != nil {
		return err
	}
	mode, err := protocol.EncodeMode(cfg.Mode)
	if err != nil {
		return err
	}
	subs, err := subscriptionsFor(cfg.Subscriptions)
	if err != nil {
		return err
	}

	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state != Connected && state != Configured {
		return stateError("configure", state, Connected, Configured)
	}

	log := s.log().WithField("mode", cfg.Mode.String())
	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("configure: %w", err)
		}
		log.WithFields(logrus.Fields{
			"endpoint": sub.Endpoint.String(),
			"handle":   sub.ConfigHandle.String(),
		}).Debug("Subscribing")
		if err := s.subscribe(sub); err != nil {
			return err
		}
	}
	if err := s.write("write", protocol.CommandHandle, mode); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.linked() {
		return stateError("configure", s.state, Connected, Configured)
	}
	s.mode = cfg.Mode
	s.subscribed = make([]protocol.Endpoint, len(subs))
	for i, sub := range subs {
		s.subscribed[i] = sub.Endpoint
	}
	if s.state == Connected {
		s.state = Configured
	}
	log.WithField("subscriptions", len(subs)).Info("Device configured")
	return nil
}

// subscriptionsFor validates and orders the requested endpoints.
func subscriptionsFor(endpoints []protocol.Endpoint) ([]protocol.Subscription, error) {
	rank := make(map[protocol.Endpoint]int)
	for i, e := range protocol.SubscribableEndpoints() {
		rank[e] = i
	}

	seen := make(map[protocol.Endpoint]bool)
	var subs []protocol.Subscription
	for _, e := range endpoints {
		if seen[e] {
			continue
		}
		seen[e] = true
		sub, err := protocol.SubscriptionFor(e)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	sort.SliceStable(subs, func(i, j int) bool {
		return rank[subs[i].Endpoint] < rank[subs[j].Endpoint]
	})
	return subs, nil
}

// Subscriptions returns the endpoints enabled by the last Configure.
func (s *Session) Subscriptions() []protocol.Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Endpoint(nil), s.subscribed...)
}

// Stream starts forwarding notifications. The caller must Close the stream,
// or Disconnect, to stop it.
func (s *Session) Stream() (*Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Configured {
		return nil, stateError("stream", s.state, Configured)
	}
	st := newStream(s, s.opts.QueueSize)
	s.stream.Store(st)
	s.state = Streaming
	s.log().Info("Streaming started")
	return st, nil
}

// streamClosed returns the session to Configured when the caller closes st.
func (s *Session) streamClosed(st *Stream) {
	s.stream.CompareAndSwap(st, nil)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Streaming {
		s.state = Configured
		s.log().Info("Streaming stopped")
	}
}

// onNotification is the transport notification callback.
func (s *Session) onNotification(handle uint16, data []byte) {
	st := s.stream.Load()
	if st == nil {
		s.log().WithField("handle", protocol.Handle(handle).String()).Debug("Notification outside streaming dropped")
		return
	}
	st.dispatch(protocol.Handle(handle), data)
}

// Disconnect closes the connection and any open stream. Idempotent.
func (s *Session) Disconnect() error {
	return s.teardown(nil, nil)
}

// linkLost handles a transport disconnect event for conn.
func (s *Session) linkLost(conn device.Connection) {
	s.log().WithField("address", conn.Address()).Warn("Connection lost")
	_ = s.teardown(conn, ErrConnectionLost)
}

// teardown disconnects. When only is set, nothing happens unless only is
// still the active connection.
func (s *Session) teardown(only device.Connection, cause error) error {
	s.mu.Lock()
	conn := s.conn
	if only != nil && only != conn {
		s.mu.Unlock()
		return nil
	}
	if conn == nil {
		if s.state != Discovering {
			s.state = Disconnected
		}
		s.mu.Unlock()
		return nil
	}
	s.conn = nil
	s.address = ""
	s.subscribed = nil
	s.state = Disconnected
	if s.watchCancel != nil {
		s.watchCancel()
		s.watchCancel = nil
	}
	s.mu.Unlock()

	if st := s.stream.Swap(nil); st != nil {
		st.shutdown(cause)
	}

	err := conn.Close()
	if err != nil && !device.IsConnectionState(err, device.NotConnected) {
		s.log().WithError(err).Warn("Failed to close connection")
		return &TransportError{Op: "disconnect", Err: err}
	}
	s.log().Info("Disconnected")
	return nil
}

// fail ends the session after a transport error and returns that error.
func (s *Session) fail(err *TransportError) error {
	s.log().WithError(err).Error("Transport failure, disconnecting")
	_ = s.teardown(nil, err)
	return err
}

func (s *Session) connection() (device.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.linked() || s.conn == nil {
		return nil, fmt.Errorf("%w (session is %s)", device.ErrNotConnected, s.state)
	}
	return s.conn, nil
}

// write issues one serialized write. Failures end the session.
func (s *Session) write(op string, handle protocol.Handle, data []byte) error {
	conn, err := s.connection()
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	err = conn.WriteCharacteristic(uint16(handle), data)
	s.writeMu.Unlock()

	if err != nil {
		return s.fail(&TransportError{Op: op, Handle: handle, Err: err})
	}
	return nil
}

func (s *Session) subscribe(sub protocol.Subscription) error {
	conn, err := s.connection()
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	err = conn.Subscribe(uint16(sub.ConfigHandle), sub.Payload)
	s.writeMu.Unlock()

	if err != nil {
		return s.fail(&TransportError{Op: "subscribe", Handle: sub.ConfigHandle, Err: err})
	}
	return nil
}

func (s *Session) read(handle protocol.Handle) ([]byte, error) {
	conn, err := s.connection()
	if err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	data, err := conn.ReadCharacteristic(uint16(handle))
	s.writeMu.Unlock()

	if err != nil {
		return nil, s.fail(&TransportError{Op: "read", Handle: handle, Err: err})
	}
	return data, nil
}
