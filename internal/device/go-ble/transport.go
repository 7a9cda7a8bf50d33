package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/myoctl/internal/device"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = func() (ble.Device, error) {
	return newPlatformDevice()
}

// Transport implements device.Transport on top of a go-ble HCI device.
// The underlying device is opened on first use and shared by scans and connections.
type Transport struct {
	logger *logrus.Logger

	mu  sync.Mutex
	dev ble.Device
}

// NewTransport creates a go-ble transport.
func NewTransport(logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	return &Transport{logger: logger}
}

func (t *Transport) device() (ble.Device, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dev != nil {
		return t.dev, nil
	}
	dev, err := DeviceFactory()
	if err != nil {
		t.logger.WithError(err).Error("Failed to create BLE device")
		return nil, fmt.Errorf("failed to create BLE device: %w", device.NormalizeError(err))
	}
	t.dev = dev
	return dev, nil
}

// Scan collects advertisements for one window. Reports from the same address
// are merged so scan responses extend the advertisement they belong to.
func (t *Transport) Scan(ctx context.Context, window time.Duration) ([]device.Advertisement, error) {
	dev, err := t.device()
	if err != nil {
		return nil, err
	}

	scanCtx := ctx
	if window > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, window)
		defer cancel()
	}

	var (
		mu    sync.Mutex
		seen  = make(map[string]*device.Advertisement)
		order []string
	)
	handler := func(a ble.Advertisement) {
		adv := NewAdvertisement(a, time.Now())
		if adv.Address == "" {
			return
		}

		mu.Lock()
		defer mu.Unlock()
		prev, ok := seen[adv.Address]
		if !ok {
			order = append(order, adv.Address)
			seen[adv.Address] = &adv
			return
		}
		mergeAdvertisement(prev, &adv)
	}

	t.logger.WithField("window", window).Debug("Scanning for advertisements...")
	err = dev.Scan(scanCtx, true, handler)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		t.logger.WithError(err).Warn("Scan failed")
		return nil, device.NormalizeError(err)
	}

	mu.Lock()
	defer mu.Unlock()
	result := make([]device.Advertisement, 0, len(order))
	for _, addr := range order {
		result = append(result, *seen[addr])
	}
	t.logger.WithField("count", len(result)).Debug("Scan window finished")
	return result, nil
}

func mergeAdvertisement(dst, src *device.Advertisement) {
	dst.RSSI = src.RSSI
	dst.SeenAt = src.SeenAt
	dst.Connectable = dst.Connectable || src.Connectable
	if src.Name != "" {
		dst.Name = src.Name
	}
	for _, e := range src.ScanData {
		dup := false
		for _, have := range dst.ScanData {
			if have == e {
				dup = true
				break
			}
		}
		if !dup {
			dst.ScanData = append(dst.ScanData, e)
		}
	}
}

// Connect dials address and indexes the peer's attribute handles.
func (t *Transport) Connect(ctx context.Context, address string, handler device.NotificationHandler) (device.Connection, error) {
	if strings.TrimSpace(address) == "" {
		t.logger.Error("Connection attempt with empty address")
		return nil, fmt.Errorf("device address is empty")
	}

	dev, err := t.device()
	if err != nil {
		return nil, err
	}

	t.logger.WithField("address", address).Info("Connecting to BLE device...")
	client, err := dev.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		t.logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Error("Failed to dial BLE device")
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", address, device.NormalizeError(err))
	}

	conn := newBLEConnection(client, address, handler, t.logger)
	conn.indexProfile()
	return conn, nil
}

// Close releases the HCI device.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dev == nil {
		return nil
	}
	err := t.dev.Stop()
	t.dev = nil
	return device.NormalizeError(err)
}
