// Package goblemocks holds testify mocks for the go-ble interfaces the
// transport uses. Each mock embeds the interface it stands in for; calling a
// method that has no override panics, which flags unexpected backend use.
package goblemocks

import (
	"context"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"
)

// MockDevice stands in for ble.Device.
type MockDevice struct {
	ble.Device
	mock.Mock

	// Advertisements are replayed to the Scan handler before the mocked result is returned.
	Advertisements []ble.Advertisement
}

func (m *MockDevice) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	args := m.Called(ctx, allowDup, h)
	for _, a := range m.Advertisements {
		h(a)
	}
	if err := args.Error(0); err != nil {
		return err
	}
	<-ctx.Done()
	return ctx.Err()
}

func (m *MockDevice) Dial(ctx context.Context, a ble.Addr) (ble.Client, error) {
	args := m.Called(ctx, a)
	c, _ := args.Get(0).(ble.Client)
	return c, args.Error(1)
}

func (m *MockDevice) Stop() error {
	return m.Called().Error(0)
}

// MockClient stands in for ble.Client.
type MockClient struct {
	ble.Client
	mock.Mock

	// Handlers captures notification handlers registered through Subscribe, keyed by value handle.
	Handlers map[uint16]ble.NotificationHandler
	DoneCh   chan struct{}
}

// NewMockClient creates a client whose Disconnected channel closes on CancelConnection.
func NewMockClient() *MockClient {
	return &MockClient{
		Handlers: make(map[uint16]ble.NotificationHandler),
		DoneCh:   make(chan struct{}),
	}
}

func (m *MockClient) DiscoverProfile(force bool) (*ble.Profile, error) {
	args := m.Called(force)
	p, _ := args.Get(0).(*ble.Profile)
	return p, args.Error(1)
}

func (m *MockClient) ReadCharacteristic(c *ble.Characteristic) ([]byte, error) {
	args := m.Called(c)
	b, _ := args.Get(0).([]byte)
	return b, args.Error(1)
}

func (m *MockClient) WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error {
	return m.Called(c, value, noRsp).Error(0)
}

func (m *MockClient) WriteDescriptor(d *ble.Descriptor, value []byte) error {
	return m.Called(d, value).Error(0)
}

func (m *MockClient) Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	err := m.Called(c, ind, h).Error(0)
	if err == nil {
		m.Handlers[c.ValueHandle] = h
	}
	return err
}

func (m *MockClient) ClearSubscriptions() error {
	return m.Called().Error(0)
}

func (m *MockClient) CancelConnection() error {
	err := m.Called().Error(0)
	select {
	case <-m.DoneCh:
	default:
		close(m.DoneCh)
	}
	return err
}

func (m *MockClient) Disconnected() <-chan struct{} {
	return m.DoneCh
}

// MockAdvertisement stands in for ble.Advertisement. Fields are returned verbatim.
type MockAdvertisement struct {
	ble.Advertisement

	Address string
	Name    string
	Rssi    int
	TxPower int
	Conn    bool
	Svcs    []ble.UUID
	MfgData []byte
	SvcData []ble.ServiceData
}

func (m *MockAdvertisement) LocalName() string              { return m.Name }
func (m *MockAdvertisement) ManufacturerData() []byte       { return m.MfgData }
func (m *MockAdvertisement) ServiceData() []ble.ServiceData { return m.SvcData }
func (m *MockAdvertisement) Services() []ble.UUID           { return m.Svcs }
func (m *MockAdvertisement) TxPowerLevel() int              { return m.TxPower }
func (m *MockAdvertisement) Connectable() bool              { return m.Conn }
func (m *MockAdvertisement) RSSI() int                      { return m.Rssi }
func (m *MockAdvertisement) Addr() ble.Addr                 { return ble.NewAddr(m.Address) }

// MockRawAdvertisement also exposes undecoded payloads like the Linux backend.
type MockRawAdvertisement struct {
	MockAdvertisement

	AdvData []byte
	RspData []byte
}

func (m *MockRawAdvertisement) Data() []byte         { return m.AdvData }
func (m *MockRawAdvertisement) ScanResponse() []byte { return m.RspData }
