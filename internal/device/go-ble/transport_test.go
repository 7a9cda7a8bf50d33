package goble_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/myoctl/internal/device"
	goble "github.com/srg/myoctl/internal/device/go-ble"
	goblemocks "github.com/srg/myoctl/internal/testutils/mocks/goble"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

// myoServiceUUID is the control service UUID in wire order.
var myoServiceUUID = ble.MustParse("d5060001-a904-deb9-4748-2c7f4a124842")

type TransportTestSuite struct {
	suite.Suite

	logger          *logrus.Logger
	originalFactory func() (ble.Device, error)
	dev             *goblemocks.MockDevice
	transport       *goble.Transport
}

func (suite *TransportTestSuite) SetupTest() {
	suite.logger = logrus.New()
	suite.logger.SetLevel(logrus.DebugLevel)

	suite.originalFactory = goble.DeviceFactory
	suite.dev = &goblemocks.MockDevice{}
	goble.DeviceFactory = func() (ble.Device, error) {
		return suite.dev, nil
	}
	suite.transport = goble.NewTransport(suite.logger)
}

func (suite *TransportTestSuite) TearDownTest() {
	goble.DeviceFactory = suite.originalFactory
}

func (suite *TransportTestSuite) TestScan_SynthesizesServiceSignature() {
	// GOAL: Verify decoded advertisements are turned into AD type 6 entries carrying the wire-order UUID hex
	//
	// TEST SCENARIO: Scan yields one advertisement with a 128-bit service → entry type 6 with signature payload

	suite.dev.Advertisements = []ble.Advertisement{
		&goblemocks.MockAdvertisement{
			Address: "d0:12:34:56:78:9a",
			Name:    "Myo",
			Rssi:    -60,
			TxPower: 127,
			Conn:    true,
			Svcs:    []ble.UUID{myoServiceUUID},
		},
	}
	suite.dev.On("Scan", mock.Anything, true, mock.Anything).Return(nil)

	advs, err := suite.transport.Scan(context.Background(), 20*time.Millisecond)
	suite.Require().NoError(err, "scan window expiry MUST NOT be an error")
	suite.Require().Len(advs, 1)

	adv := advs[0]
	suite.Equal("D0:12:34:56:78:9A", adv.Address, "address MUST be upper-cased")
	suite.Equal("Myo", adv.Name)

	entry, ok := adv.Find(device.ADIncomplete128BitServices)
	suite.Require().True(ok, "128-bit service list MUST be reported as AD type 6")
	suite.Equal("4248124a7f2c4847b9de04a9010006d5", entry.Payload)
	suite.Equal("Incomplete 128b Services", entry.Name)

	_, ok = adv.Find(device.ADTxPower)
	suite.False(ok, "unset tx power MUST NOT produce an entry")
}

func (suite *TransportTestSuite) TestScan_PrefersRawScanData() {
	raw := append([]byte{0x02, 0x01, 0x06, 0x11, 0x06}, myoServiceUUID...)
	suite.dev.Advertisements = []ble.Advertisement{
		&goblemocks.MockRawAdvertisement{
			MockAdvertisement: goblemocks.MockAdvertisement{Address: "aa:bb:cc:dd:ee:ff"},
			AdvData:           raw,
			RspData:           []byte{0x04, 0x09, 'M', 'y', 'o'},
		},
	}
	suite.dev.On("Scan", mock.Anything, true, mock.Anything).Return(nil)

	advs, err := suite.transport.Scan(context.Background(), 20*time.Millisecond)
	suite.Require().NoError(err)
	suite.Require().Len(advs, 1)
	suite.Equal([]device.ScanDataEntry{
		{Type: 0x01, Name: "Flags", Payload: "06"},
		{Type: 0x06, Name: "Incomplete 128b Services", Payload: "4248124a7f2c4847b9de04a9010006d5"},
		{Type: 0x09, Name: "Complete Local Name", Payload: "4d796f"},
	}, advs[0].ScanData)
}

func (suite *TransportTestSuite) TestScan_MergesReportsFromSameAddress() {
	suite.dev.Advertisements = []ble.Advertisement{
		&goblemocks.MockAdvertisement{Address: "11:22:33:44:55:66", Rssi: -80, TxPower: 127},
		&goblemocks.MockAdvertisement{Address: "11:22:33:44:55:66", Rssi: -70, TxPower: 127, Name: "dev"},
	}
	suite.dev.On("Scan", mock.Anything, true, mock.Anything).Return(nil)

	advs, err := suite.transport.Scan(context.Background(), 20*time.Millisecond)
	suite.Require().NoError(err)
	suite.Require().Len(advs, 1)
	suite.Equal(-70, advs[0].RSSI)
	suite.Equal("dev", advs[0].Name)
}

func (suite *TransportTestSuite) TestScan_NormalizesErrors() {
	// GOAL: Verify backend scan errors are normalized while the original error stays in the chain

	tests := []struct {
		name      string
		mockErr   error
		sentinel  error
		substring string
	}{
		{
			name:      "darwin Bluetooth off",
			mockErr:   fmt.Errorf("central manager has invalid state: have=4 want=5: is Bluetooth turned on?"),
			sentinel:  device.ErrBluetoothOff,
			substring: "is Bluetooth turned on",
		},
		{
			name:      "generic Bluetooth off",
			mockErr:   fmt.Errorf("bluetooth is turned off"),
			sentinel:  device.ErrBluetoothOff,
			substring: "bluetooth is turned off",
		},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			dev := &goblemocks.MockDevice{}
			dev.On("Scan", mock.Anything, mock.Anything, mock.Anything).Return(tt.mockErr)
			goble.DeviceFactory = func() (ble.Device, error) { return dev, nil }

			_, err := goble.NewTransport(suite.logger).Scan(context.Background(), time.Second)
			suite.Require().Error(err)
			suite.ErrorIs(err, tt.sentinel, "error chain MUST contain expected sentinel error")
			suite.ErrorIs(err, tt.mockErr, "error chain MUST keep the backend error")
			suite.Contains(err.Error(), tt.substring)
		})
	}

	suite.Run("unknown errors pass through", func() {
		backendErr := errors.New("some other error")
		dev := &goblemocks.MockDevice{}
		dev.On("Scan", mock.Anything, mock.Anything, mock.Anything).Return(backendErr)
		goble.DeviceFactory = func() (ble.Device, error) { return dev, nil }

		_, err := goble.NewTransport(suite.logger).Scan(context.Background(), time.Second)
		suite.Equal(backendErr, err)
		suite.NotErrorIs(err, device.ErrBluetoothOff)
	})
}

func (suite *TransportTestSuite) TestScan_FactoryFailure() {
	goble.DeviceFactory = func() (ble.Device, error) {
		return nil, errors.New("can't init hci: no devices available")
	}

	_, err := goble.NewTransport(suite.logger).Scan(context.Background(), time.Second)
	suite.ErrorIs(err, device.ErrBluetoothOff)
}

func (suite *TransportTestSuite) TestConnect_EmptyAddress() {
	_, err := suite.transport.Connect(context.Background(), "  ", nil)
	suite.Error(err)
	suite.dev.AssertNotCalled(suite.T(), "Dial", mock.Anything, mock.Anything)
}

func (suite *TransportTestSuite) TestConnect_DialFailure() {
	suite.dev.On("Dial", mock.Anything, mock.Anything).Return(nil, context.DeadlineExceeded)

	_, err := suite.transport.Connect(context.Background(), "AA:BB:CC:DD:EE:FF", nil)
	suite.Require().Error(err)
	suite.ErrorIs(err, device.ErrTimeout)
	suite.Contains(err.Error(), "AA:BB:CC:DD:EE:FF")
}

func TestTransportTestSuite(t *testing.T) {
	suite.Run(t, new(TransportTestSuite))
}
