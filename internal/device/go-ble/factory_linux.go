package goble

import (
	"fmt"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"golang.org/x/sys/unix"
)

// newPlatformDevice opens the default HCI adapter. Raw HCI sockets need root
// or CAP_NET_ADMIN; the euid check only sharpens the error message.
func newPlatformDevice() (ble.Device, error) {
	dev, err := linux.NewDevice()
	if err != nil {
		if unix.Geteuid() != 0 {
			return nil, fmt.Errorf("%w (raw HCI access usually requires root or CAP_NET_ADMIN)", err)
		}
		return nil, err
	}
	return dev, nil
}
