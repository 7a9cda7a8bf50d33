package session

import "fmt"

// State is the session lifecycle state.
type State int32

const (
	Disconnected State = iota
	Discovering
	Connected
	Configured
	Streaming
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Discovering:
		return "discovering"
	case Connected:
		return "connected"
	case Configured:
		return "configured"
	case Streaming:
		return "streaming"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// linked reports whether a connection exists in state s.
func (s State) linked() bool {
	return s == Connected || s == Configured || s == Streaming
}
