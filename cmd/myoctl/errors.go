package main

import (
	"errors"
	"fmt"

	"github.com/srg/myoctl/internal/device"
	"github.com/srg/myoctl/internal/session"
)

// FormatUserError turns known failures into a short message for the terminal.
func FormatUserError(err error) string {
	var terr *session.TransportError
	switch {
	case errors.Is(err, session.ErrDiscoveryTimeout):
		return "no Myo armband found before the discovery timeout; make sure it is awake and nearby"
	case errors.Is(err, session.ErrDiscoveryCancelled):
		return "discovery cancelled"
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off or no adapter is available"
	case errors.Is(err, device.ErrUnsupported):
		return "BLE is not supported on this platform"
	case errors.Is(err, session.ErrConnectionLost):
		return "connection to the armband was lost"
	case errors.As(err, &terr):
		return fmt.Sprintf("device communication failed during %s: %v", terr.Op, terr.Err)
	default:
		return err.Error()
	}
}
