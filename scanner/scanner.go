// Package scanner finds Myo armbands by listening to advertisements in bounded
// scan windows.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
	"github.com/srg/myoctl/internal/device"
	"github.com/srg/myoctl/internal/protocol"
	"github.com/srg/myoctl/internal/ringchan"
)

// Discovery outcomes other than a match.
var (
	ErrDiscoveryTimeout   = errors.New("discovery timed out")
	ErrDiscoveryCancelled = errors.New("discovery cancelled")
)

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// DeviceEventType marks if the device was newly discovered or updated
type DeviceEventType int

const (
	EventNew DeviceEventType = iota
	EventUpdated
)

type DeviceEvent struct {
	Type  DeviceEventType
	Entry DeviceEntry
}

// DeviceEntry is the latest advertisement seen from one address.
type DeviceEntry struct {
	Advertisement device.Advertisement `json:"advertisement"`
	IsMyo         bool                 `json:"is_myo"`
	Seen          int                  `json:"seen"`
	LastSeen      time.Time            `json:"last_seen"`
}

// Matcher selects the advertisement discovery stops at.
type Matcher func(adv *device.Advertisement) bool

// SignatureMatcher accepts advertisements carrying the Myo service signature.
func SignatureMatcher() Matcher {
	return func(adv *device.Advertisement) bool {
		for _, e := range adv.ScanData {
			if protocol.IsSignature(e.Type, e.Payload) {
				return true
			}
		}
		return false
	}
}

// AddressMatcher accepts advertisements from address, ignoring case.
func AddressMatcher(address string) Matcher {
	return func(adv *device.Advertisement) bool {
		return protocol.SameAddress(adv.Address, address)
	}
}

// MatcherFor returns AddressMatcher for a known address and SignatureMatcher otherwise.
func MatcherFor(address string) Matcher {
	if address == "" {
		return SignatureMatcher()
	}
	return AddressMatcher(address)
}

// Options configures scanning behavior
type Options struct {
	Window           time.Duration // length of a single scan window
	Timeout          time.Duration // discovery gives up after this long, 0 waits for ctx
	FailureThreshold uint32        // consecutive failed windows that abort discovery
	Cooldown         time.Duration // how long the breaker stays open
	AllowList        []string
	BlockList        []string
	OnlyMyo          bool
}

// DefaultOptions returns default scanning options
func DefaultOptions() *Options {
	return &Options{
		Window:           time.Second,
		FailureThreshold: 3,
		Cooldown:         5 * time.Second,
	}
}

// Scanner handles BLE device discovery
type Scanner struct {
	transport device.Transport
	logger    *logrus.Logger
	opts      Options

	devices *hashmap.Map[string, DeviceEntry]
	events  *ringchan.RingChannel[DeviceEvent]
	breaker *gobreaker.CircuitBreaker[[]device.Advertisement]
	isMyo   Matcher
}

// New creates a scanner over transport. A nil opts uses DefaultOptions.
func New(transport device.Transport, opts *Options, logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	if opts == nil {
		opts = DefaultOptions()
	}
	o := *opts
	defaults := DefaultOptions()
	if o.Window <= 0 {
		o.Window = defaults.Window
	}
	if o.FailureThreshold == 0 {
		o.FailureThreshold = defaults.FailureThreshold
	}
	if o.Cooldown <= 0 {
		o.Cooldown = defaults.Cooldown
	}

	s := &Scanner{
		transport: transport,
		logger:    logger,
		opts:      o,
		devices:   hashmap.New[string, DeviceEntry](),
		events:    ringchan.New[DeviceEvent](100),
		isMyo:     SignatureMatcher(),
	}
	s.breaker = gobreaker.NewCircuitBreaker[[]device.Advertisement](gobreaker.Settings{
		Name:        "ble-scan",
		MaxRequests: 1,
		Timeout:     o.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= o.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Scan circuit breaker state changed")
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})
	return s
}

// Events returns a read-only channel of device events
func (s *Scanner) Events() <-chan DeviceEvent {
	return s.events.C()
}

// scanWindow runs one scan window through the circuit breaker.
func (s *Scanner) scanWindow(ctx context.Context) ([]device.Advertisement, error) {
	return s.breaker.Execute(func() ([]device.Advertisement, error) {
		return s.transport.Scan(ctx, s.opts.Window)
	})
}

// Discover scans window after window until an advertisement satisfies the
// matcher for address (empty address matches the service signature). The
// returned advertisement's address is upper-cased.
func (s *Scanner) Discover(ctx context.Context, address string) (device.Advertisement, error) {
	match := MatcherFor(address)

	parent := ctx
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	log := s.logger.WithFields(logrus.Fields{
		"address": address,
		"window":  s.opts.Window,
		"timeout": s.opts.Timeout,
	})
	log.Info("Discovering device...")

	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return device.Advertisement{}, s.stopReason(parent, err)
		}

		advs, err := s.scanWindow(ctx)
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			if lastErr == nil {
				lastErr = err
			}
			return device.Advertisement{}, fmt.Errorf("scanning failed repeatedly: %w", lastErr)
		case err != nil && ctx.Err() == nil:
			lastErr = err
			log.WithError(err).WithField("attempt", attempt).Warn("Scan window failed")
			select {
			case <-ctx.Done():
			case <-time.After(s.opts.Window):
			}
			continue
		}

		for i := range advs {
			s.record(&advs[i])
		}
		for i := range advs {
			if match(&advs[i]) {
				found := advs[i]
				found.Address = protocol.NormalizeAddress(found.Address)
				log.WithFields(logrus.Fields{
					"found":   found.Address,
					"rssi":    found.RSSI,
					"attempt": attempt,
				}).Info("Device discovered")
				return found, nil
			}
		}
		log.WithFields(logrus.Fields{
			"attempt": attempt,
			"seen":    len(advs),
		}).Debug("No match in scan window")
	}
}

func (s *Scanner) stopReason(parent context.Context, err error) error {
	if parent.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrDiscoveryTimeout, s.opts.Timeout)
	}
	return fmt.Errorf("%w: %w", ErrDiscoveryCancelled, err)
}

// Scan lists devices for duration (0 scans until ctx ends). Each window's
// advertisements update the device table and are published on Events.
func (s *Scanner) Scan(ctx context.Context, duration time.Duration, progressCallback ProgressCallback) (map[string]DeviceEntry, error) {
	if progressCallback == nil {
		progressCallback = func(string) {} // No-op callback
	}
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	s.logger.WithField("duration", duration).Info("Starting BLE scan...")
	progressCallback("Scanning")

	for ctx.Err() == nil {
		advs, err := s.scanWindow(ctx)
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		for i := range advs {
			s.record(&advs[i])
		}
	}

	s.logger.WithField("device_count", s.devices.Len()).Info("BLE scan completed")
	progressCallback("Processing results")
	return s.Devices(), nil
}

// Devices returns a snapshot of the device table.
func (s *Scanner) Devices() map[string]DeviceEntry {
	out := make(map[string]DeviceEntry, s.devices.Len())
	s.devices.Range(func(key string, value DeviceEntry) bool {
		out[key] = value
		return true
	})
	return out
}

// record updates existing or adds a new device
func (s *Scanner) record(adv *device.Advertisement) {
	if !s.shouldInclude(adv) {
		return
	}

	key := protocol.NormalizeAddress(adv.Address)
	entry, existing := s.devices.Get(key)
	entry.Advertisement = *adv
	entry.IsMyo = entry.IsMyo || s.isMyo(adv)
	entry.Seen++
	entry.LastSeen = adv.SeenAt
	if entry.LastSeen.IsZero() {
		entry.LastSeen = time.Now()
	}
	s.devices.Set(key, entry)

	event := DeviceEvent{Entry: entry, Type: EventUpdated}
	if !existing {
		event.Type = EventNew
		s.logger.WithFields(logrus.Fields{
			"device":  adv.Name,
			"address": key,
			"rssi":    adv.RSSI,
			"myo":     entry.IsMyo,
		}).Info("Discovered new device")
	}
	s.events.Send(event)
}

// shouldInclude applies allow/block/myo filters
func (s *Scanner) shouldInclude(adv *device.Advertisement) bool {
	for _, blocked := range s.opts.BlockList {
		if protocol.SameAddress(adv.Address, blocked) {
			return false
		}
	}

	if len(s.opts.AllowList) > 0 {
		allowed := false
		for _, a := range s.opts.AllowList {
			if protocol.SameAddress(adv.Address, a) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	return !s.opts.OnlyMyo || s.isMyo(adv)
}
