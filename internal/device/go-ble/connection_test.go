package goble_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/myoctl/internal/device"
	goble "github.com/srg/myoctl/internal/device/go-ble"
	goblemocks "github.com/srg/myoctl/internal/testutils/mocks/goble"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type ConnectionTestSuite struct {
	suite.Suite

	originalFactory func() (ble.Device, error)
	dev             *goblemocks.MockDevice
	client          *goblemocks.MockClient
	imu             *ble.Characteristic

	mu       sync.Mutex
	received map[uint16][][]byte
}

func (suite *ConnectionTestSuite) SetupTest() {
	suite.originalFactory = goble.DeviceFactory
	suite.dev = &goblemocks.MockDevice{}
	suite.client = goblemocks.NewMockClient()
	suite.received = make(map[uint16][][]byte)
	goble.DeviceFactory = func() (ble.Device, error) { return suite.dev, nil }

	suite.imu = &ble.Characteristic{
		UUID:        ble.MustParse("d5060402-a904-deb9-4748-2c7f4a124842"),
		Property:    ble.CharNotify,
		Handle:      0x1b,
		ValueHandle: 0x1c,
		CCCD:        &ble.Descriptor{UUID: ble.ClientCharacteristicConfigUUID, Handle: 0x1d},
	}
	profile := &ble.Profile{Services: []*ble.Service{{Characteristics: []*ble.Characteristic{suite.imu}}}}

	suite.dev.On("Dial", mock.Anything, mock.Anything).Return(suite.client, nil)
	suite.client.On("DiscoverProfile", true).Return(profile, nil)
}

func (suite *ConnectionTestSuite) TearDownTest() {
	goble.DeviceFactory = suite.originalFactory
}

func (suite *ConnectionTestSuite) connect() device.Connection {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	conn, err := goble.NewTransport(logger).Connect(context.Background(), "AA:BB:CC:DD:EE:FF", func(h uint16, data []byte) {
		suite.mu.Lock()
		defer suite.mu.Unlock()
		suite.received[h] = append(suite.received[h], data)
	})
	suite.Require().NoError(err, "connect MUST succeed")
	return conn
}

func (suite *ConnectionTestSuite) TestSubscribe_ProfiledCharacteristic() {
	// GOAL: Verify a CCCD handle resolves to its discovered characteristic and updates are routed by value handle
	//
	// TEST SCENARIO: subscribe 0x1d → go-ble Subscribe on IMU characteristic → notification arrives keyed 0x1c

	suite.client.On("Subscribe", suite.imu, false, mock.Anything).Return(nil)
	conn := suite.connect()

	suite.Require().NoError(conn.Subscribe(0x1d, []byte{0x01, 0x00}))

	payload := []byte{1, 2, 3}
	suite.client.Handlers[0x1c](payload)
	payload[0] = 9

	suite.mu.Lock()
	defer suite.mu.Unlock()
	suite.Equal([][]byte{{1, 2, 3}}, suite.received[0x1c], "handler MUST receive a private copy keyed by value handle")
}

func (suite *ConnectionTestSuite) TestSubscribe_FallbackAddressing() {
	// GOAL: Verify handles missing from the profile are addressed directly and indications are requested for 02 00

	var subscribed *ble.Characteristic
	suite.client.On("Subscribe", mock.Anything, true, mock.Anything).
		Run(func(args mock.Arguments) { subscribed = args.Get(0).(*ble.Characteristic) }).
		Return(nil)
	conn := suite.connect()

	suite.Require().NoError(conn.Subscribe(0x24, []byte{0x02, 0x00}))
	suite.Require().NotNil(subscribed)
	suite.Equal(uint16(0x23), subscribed.ValueHandle)
	suite.Require().NotNil(subscribed.CCCD)
	suite.Equal(uint16(0x24), subscribed.CCCD.Handle)
}

func (suite *ConnectionTestSuite) TestSubscribe_EmptyPayload() {
	conn := suite.connect()
	suite.Error(conn.Subscribe(0x1d, nil))
}

func (suite *ConnectionTestSuite) TestWriteCharacteristic() {
	var written *ble.Characteristic
	suite.client.On("WriteCharacteristic", mock.Anything, []byte{0x01, 0x03, 0x02, 0x01, 0x00}, true).
		Run(func(args mock.Arguments) { written = args.Get(0).(*ble.Characteristic) }).
		Return(nil)
	conn := suite.connect()

	suite.Require().NoError(conn.WriteCharacteristic(0x19, []byte{0x01, 0x03, 0x02, 0x01, 0x00}))
	suite.Equal(uint16(0x19), written.ValueHandle)
}

func (suite *ConnectionTestSuite) TestWriteCharacteristic_KnownCCCDUsesDescriptorWrite() {
	suite.client.On("WriteDescriptor", suite.imu.CCCD, []byte{0x01, 0x00}).Return(nil)
	conn := suite.connect()

	suite.Require().NoError(conn.WriteCharacteristic(0x1d, []byte{0x01, 0x00}))
	suite.client.AssertExpectations(suite.T())
}

func (suite *ConnectionTestSuite) TestReadCharacteristic_Error() {
	suite.client.On("ReadCharacteristic", mock.Anything).Return(nil, errors.New("device not connected"))
	conn := suite.connect()

	_, err := conn.ReadCharacteristic(0x11)
	suite.ErrorIs(err, device.ErrNotConnected)
}

func (suite *ConnectionTestSuite) TestClose_Idempotent() {
	suite.client.On("ClearSubscriptions").Return(nil).Once()
	suite.client.On("CancelConnection").Return(nil).Once()
	conn := suite.connect()

	suite.NoError(conn.Close())
	suite.NoError(conn.Close())

	select {
	case <-conn.Disconnected():
	default:
		suite.Fail("Disconnected MUST be closed after Close")
	}

	_, err := conn.ReadCharacteristic(0x11)
	suite.ErrorIs(err, device.ErrNotConnected, "reads after Close MUST fail")
	suite.client.AssertExpectations(suite.T())
}

func TestConnectionTestSuite(t *testing.T) {
	suite.Run(t, new(ConnectionTestSuite))
}
