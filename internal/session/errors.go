package session

import (
	"errors"
	"fmt"

	"github.com/srg/myoctl/internal/protocol"
	"github.com/srg/myoctl/scanner"
)

var (
	// ErrInvalidState is returned when an operation is not allowed in the current state.
	ErrInvalidState = errors.New("invalid session state")
	// ErrConnectionLost is the cause reported by a Stream whose link dropped.
	ErrConnectionLost = errors.New("connection lost")

	ErrDiscoveryTimeout   = scanner.ErrDiscoveryTimeout
	ErrDiscoveryCancelled = scanner.ErrDiscoveryCancelled
)

// TransportError wraps a failed connect, read or write. It ends the session:
// the caller has to connect again.
type TransportError struct {
	Op     string // "scan", "connect", "subscribe", "write", "read"
	Handle protocol.Handle
	Err    error
}

func (e *TransportError) Error() string {
	if e.Handle == 0 {
		return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport %s %s: %v", e.Op, e.Handle, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err is, or wraps, a TransportError.
func IsTransportError(err error) bool {
	var terr *TransportError
	return errors.As(err, &terr)
}

func stateError(op string, have State, want ...State) error {
	return fmt.Errorf("%w: %s requires %v, session is %s", ErrInvalidState, op, want, have)
}
