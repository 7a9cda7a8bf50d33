package goble

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/myoctl/internal/device"
)

// cccdIndicate is the first byte of an indicate-enable configuration payload.
const cccdIndicate = 0x02

// disconnectWait bounds how long Close waits for the link to drop.
const disconnectWait = 3 * time.Second

// BLEConnection is a live, handle-addressed go-ble connection.
//
// Handles are resolved against the discovered GATT profile. Handles missing
// from the profile are addressed directly, which the Linux backend supports.
type BLEConnection struct {
	client  ble.Client
	address string
	logger  *logrus.Logger
	handler device.NotificationHandler

	writeMutex sync.Mutex
	connMutex  sync.RWMutex
	closed     bool

	byValue map[uint16]*ble.Characteristic
	byCCCD  map[uint16]*ble.Characteristic
}

func newBLEConnection(client ble.Client, address string, handler device.NotificationHandler, logger *logrus.Logger) *BLEConnection {
	if handler == nil {
		handler = func(uint16, []byte) {}
	}
	return &BLEConnection{
		client:  client,
		address: address,
		logger:  logger,
		handler: handler,
		byValue: make(map[uint16]*ble.Characteristic),
		byCCCD:  make(map[uint16]*ble.Characteristic),
	}
}

// indexProfile discovers the peer's profile. A failed discovery is not fatal:
// every handle then falls back to direct addressing.
func (c *BLEConnection) indexProfile() {
	p, err := c.client.DiscoverProfile(true)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"address": c.address,
			"error":   err,
		}).Warn("Profile discovery failed, using direct handle addressing")
		return
	}

	c.connMutex.Lock()
	defer c.connMutex.Unlock()
	for _, svc := range p.Services {
		for _, ch := range svc.Characteristics {
			c.byValue[ch.ValueHandle] = ch
			if ch.CCCD != nil {
				c.byCCCD[ch.CCCD.Handle] = ch
			}
		}
	}
	c.logger.WithFields(logrus.Fields{
		"address":         c.address,
		"services":        len(p.Services),
		"characteristics": len(c.byValue),
	}).Debug("Profile discovered successfully")
}

func (c *BLEConnection) Address() string {
	return c.address
}

// characteristic resolves a value handle.
func (c *BLEConnection) characteristic(handle uint16) (*ble.Characteristic, error) {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()

	if c.closed {
		return nil, device.ErrNotConnected
	}
	if ch, ok := c.byValue[handle]; ok {
		return ch, nil
	}
	return &ble.Characteristic{Handle: handle - 1, ValueHandle: handle}, nil
}

// configured resolves a client characteristic configuration descriptor handle
// to the characteristic it controls. The value handle precedes its CCCD.
func (c *BLEConnection) configured(cccd uint16) (*ble.Characteristic, bool, error) {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()

	if c.closed {
		return nil, false, device.ErrNotConnected
	}
	if ch, ok := c.byCCCD[cccd]; ok {
		return ch, true, nil
	}
	return &ble.Characteristic{
		Handle:      cccd - 2,
		ValueHandle: cccd - 1,
		CCCD:        &ble.Descriptor{UUID: ble.ClientCharacteristicConfigUUID, Handle: cccd},
	}, false, nil
}

func (c *BLEConnection) ReadCharacteristic(handle uint16) ([]byte, error) {
	ch, err := c.characteristic(handle)
	if err != nil {
		return nil, err
	}
	data, err := c.client.ReadCharacteristic(ch)
	if err != nil {
		return nil, fmt.Errorf("read 0x%02x: %w", handle, device.NormalizeError(err))
	}
	return data, nil
}

// WriteCharacteristic writes data to a value handle, or to a configuration
// descriptor when handle is a known CCCD handle. Writes are serialized.
func (c *BLEConnection) WriteCharacteristic(handle uint16, data []byte) error {
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	c.connMutex.RLock()
	owner, isCCCD := c.byCCCD[handle]
	c.connMutex.RUnlock()
	if isCCCD {
		if err := c.client.WriteDescriptor(owner.CCCD, data); err != nil {
			return fmt.Errorf("write 0x%02x: %w", handle, device.NormalizeError(err))
		}
		return nil
	}

	ch, err := c.characteristic(handle)
	if err != nil {
		return err
	}
	noRsp := ch.Property&ble.CharWrite == 0
	if err := c.client.WriteCharacteristic(ch, data, noRsp); err != nil {
		return fmt.Errorf("write 0x%02x: %w", handle, device.NormalizeError(err))
	}
	return nil
}

// Subscribe enables updates through the CCCD at configHandle. An enable
// payload starting with 0x02 requests indications, anything else notifications.
func (c *BLEConnection) Subscribe(configHandle uint16, enable []byte) error {
	if len(enable) == 0 {
		return fmt.Errorf("subscribe 0x%02x: empty configuration payload", configHandle)
	}

	ch, known, err := c.configured(configHandle)
	if err != nil {
		return err
	}
	ind := enable[0] == cccdIndicate
	valueHandle := ch.ValueHandle

	c.logger.WithFields(logrus.Fields{
		"cccd":     fmt.Sprintf("0x%02x", configHandle),
		"handle":   fmt.Sprintf("0x%02x", valueHandle),
		"indicate": ind,
		"profiled": known,
	}).Debug("Subscribing")

	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()
	err = c.client.Subscribe(ch, ind, func(data []byte) {
		buf := make([]byte, len(data))
		copy(buf, data)
		c.handler(valueHandle, buf)
	})
	if err != nil {
		return fmt.Errorf("subscribe 0x%02x: %w", configHandle, device.NormalizeError(err))
	}
	return nil
}

func (c *BLEConnection) Disconnected() <-chan struct{} {
	return c.client.Disconnected()
}

// Close drops subscriptions and the link. Safe to call more than once.
func (c *BLEConnection) Close() error {
	c.connMutex.Lock()
	if c.closed {
		c.connMutex.Unlock()
		return nil
	}
	c.closed = true
	c.connMutex.Unlock()

	if err := c.client.ClearSubscriptions(); err != nil {
		c.logger.WithError(err).Debug("Failed to clear subscriptions")
	}
	if err := c.client.CancelConnection(); err != nil {
		return device.NormalizeError(err)
	}

	select {
	case <-c.client.Disconnected():
	case <-time.After(disconnectWait):
		c.logger.WithField("address", c.address).Warn("Timed out waiting for disconnect")
	}
	return nil
}
