package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// NotFoundError represents an error when a GATT attribute is not exposed by the peer
type NotFoundError struct {
	Resource string // "characteristic", "descriptor"
	Handle   uint16
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s 0x%02x not found", e.Resource, e.Handle)
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	NotInitialized   ConnectionState = "not_initialized"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrNotInitialized   = &ConnectionError{State: NotInitialized}
)

// Operation errors
var (
	ErrTimeout      = errors.New("timeout")
	ErrUnsupported  = errors.New("unsupported")
	ErrBluetoothOff = errors.New("bluetooth is turned off")
)

// NormalizeError maps well-known backend error strings to the sentinels above.
// The original error stays in the chain.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case containsIgnoreCase(msg, "is Bluetooth turned on"),
		containsIgnoreCase(msg, "bluetooth is turned off"),
		containsIgnoreCase(msg, "can't init hci"):
		return fmt.Errorf("%w: %w", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "device not connected"),
		containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	case containsIgnoreCase(msg, "device already connected"):
		return fmt.Errorf("%w: %w", ErrAlreadyConnected, err)
	case containsIgnoreCase(msg, "connection is not initialized"):
		return fmt.Errorf("%w: %w", ErrNotInitialized, err)
	default:
		return err
	}
}

// containsIgnoreCase checks substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// ScanDataEntry is one advertising data structure: its AD type code, the
// assigned-numbers description of that type and the payload as lower-case hex.
type ScanDataEntry struct {
	Type    uint8  `json:"type"`
	Name    string `json:"name"`
	Payload string `json:"payload"`
}

// Advertisement is a single advertising report collected during a scan window.
type Advertisement struct {
	Address     string          `json:"address"`
	Name        string          `json:"name,omitempty"`
	RSSI        int             `json:"rssi"`
	Connectable bool            `json:"connectable"`
	ScanData    []ScanDataEntry `json:"scan_data"`
	SeenAt      time.Time       `json:"seen_at"`
}

// Find returns the first entry with the given AD type.
func (a *Advertisement) Find(adType uint8) (ScanDataEntry, bool) {
	for _, e := range a.ScanData {
		if e.Type == adType {
			return e, true
		}
	}
	return ScanDataEntry{}, false
}

// NotificationHandler receives notifications and indications keyed by value handle.
// It is called on the transport's goroutine and must not block.
type NotificationHandler func(handle uint16, data []byte)

// Transport is the BLE stack the session drives.
type Transport interface {
	// Scan listens for advertisements for one window. The end of the window, or
	// ctx expiring inside it, is a normal end of scan.
	Scan(ctx context.Context, window time.Duration) ([]Advertisement, error)

	// Connect opens a connection to address. Notifications for subscribed
	// attributes are delivered to handler until the connection closes.
	Connect(ctx context.Context, address string, handler NotificationHandler) (Connection, error)
}

// Connection is a live, handle-addressed GATT connection.
type Connection interface {
	Address() string
	ReadCharacteristic(handle uint16) ([]byte, error)
	WriteCharacteristic(handle uint16, data []byte) error

	// Subscribe writes enable to the client characteristic configuration
	// descriptor at configHandle and routes the resulting updates to the
	// connection's NotificationHandler.
	Subscribe(configHandle uint16, enable []byte) error

	// Disconnected is closed once the link is gone, whatever the cause.
	Disconnected() <-chan struct{}
	Close() error
}
