// Package device defines the BLE transport contract the Myo session is built on.
//
// A Transport scans for advertisements and opens handle-addressed GATT
// connections. Implementations live in sub-packages (see go-ble) and report
// failures through the error taxonomy declared here:
//   - ConnectionError for connection state problems (not connected, already connected)
//   - NotFoundError for handles the peer does not expose
//   - ErrTimeout, ErrUnsupported and ErrBluetoothOff for operational failures
package device
