package protocol

import (
	"errors"
	"fmt"
)

// DecodeErrorKind classifies a notification that could not be decoded.
type DecodeErrorKind string

const (
	MalformedPayload    DecodeErrorKind = "malformed_payload"
	UnsupportedEndpoint DecodeErrorKind = "unsupported_endpoint"
)

// DecodeError is returned for a single notification that could not be turned
// into a Reading. It never invalidates the stream it came from.
type DecodeError struct {
	Kind     DecodeErrorKind
	Endpoint Endpoint
	Expected int // payload length, MalformedPayload only
	Actual   int
}

func (e *DecodeError) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch e.Kind {
	case MalformedPayload:
		return fmt.Sprintf("%s: %s payload must be %d bytes, got %d", e.Kind, e.Endpoint, e.Expected, e.Actual)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Endpoint)
	}
}

// Is allows errors.Is to compare DecodeError values by Kind
func (e *DecodeError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*DecodeError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

var (
	ErrMalformedPayload    = &DecodeError{Kind: MalformedPayload}
	ErrUnsupportedEndpoint = &DecodeError{Kind: UnsupportedEndpoint}
)

// ErrInvalidConfiguration matches every ConfigurationError.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// ConfigurationError rejects a caller supplied value before anything is encoded.
type ConfigurationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("invalid %s: %v", e.Field, e.Value)
	}
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrInvalidConfiguration
}
