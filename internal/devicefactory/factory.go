// Package devicefactory selects the BLE transport implementation.
package devicefactory

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/myoctl/internal/device"
	goble "github.com/srg/myoctl/internal/device/go-ble"
)

// TransportFactory creates the device.Transport used by commands.
// This is a variable so that it can be overridden in tests.
var TransportFactory = func(logger *logrus.Logger) (device.Transport, error) {
	return goble.NewTransport(logger), nil
}

// NewTransport creates a transport through TransportFactory.
func NewTransport(logger *logrus.Logger) (device.Transport, error) {
	if logger == nil {
		logger = logrus.New()
	}
	return TransportFactory(logger)
}
