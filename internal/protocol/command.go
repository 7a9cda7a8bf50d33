package protocol

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Command opcodes written to CommandHandle.
const (
	opSetMode byte = 0x01
	opVibrate byte = 0x03
	opSetLeds byte = 0x06
)

// Vibration lengths accepted by the device firmware.
const (
	MinVibrationLength = 1
	MaxVibrationLength = 3
)

// Client characteristic configuration payloads.
var (
	notifyEnable   = [2]byte{0x01, 0x00}
	indicateEnable = [2]byte{0x02, 0x00}
)

// RGB is one LED color.
type RGB [3]uint8

func (c RGB) String() string {
	return hex.EncodeToString(c[:])
}

// ParseColor parses a 6 digit hex color such as "ff8800" or "#FF8800".
func ParseColor(s string) (RGB, error) {
	var c RGB
	raw := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(raw) != 6 {
		return c, &ConfigurationError{Field: "color", Value: s, Reason: "expected 6 hex digits"}
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return c, &ConfigurationError{Field: "color", Value: s, Reason: "expected 6 hex digits"}
	}
	copy(c[:], b)
	return c, nil
}

// LedPattern holds the logo and bar LED colors.
type LedPattern struct {
	Logo RGB
	Bar  RGB
}

// EncodeSetLeds builds the 8 byte LED command: 06 06 logoRGB barRGB.
func EncodeSetLeds(logo, bar RGB) []byte {
	return []byte{
		opSetLeds, 6,
		logo[0], logo[1], logo[2],
		bar[0], bar[1], bar[2],
	}
}

// EncodeVibrate builds the 3 byte vibrate command: 03 01 length.
// It returns false, and no payload, when length is outside
// [MinVibrationLength, MaxVibrationLength]; the device ignores such values
// so nothing should be written.
func EncodeVibrate(length int) ([]byte, bool) {
	if length < MinVibrationLength || length > MaxVibrationLength {
		return nil, false
	}
	return []byte{opVibrate, 1, byte(length)}, true
}

// EncodeSetMode builds the 5 byte mode command: 01 03 emg imu classifier.
func EncodeSetMode(emg EmgMode, imu ImuMode, classifier ClassifierMode) ([]byte, error) {
	m := OperatingMode{Emg: emg, Imu: imu, Classifier: classifier}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return []byte{opSetMode, 3, byte(emg), byte(imu), byte(classifier)}, nil
}

// EncodeMode is EncodeSetMode for an OperatingMode value.
func EncodeMode(m OperatingMode) ([]byte, error) {
	return EncodeSetMode(m.Emg, m.Imu, m.Classifier)
}

// EncodeSubscribe returns the configuration payload enabling updates for endpoint e:
// notify-enable for most endpoints, indicate-enable for the classifier.
func EncodeSubscribe(e Endpoint) ([]byte, error) {
	a, ok := byEndpoint[e]
	if !ok {
		return nil, &ConfigurationError{Field: "subscription", Value: e, Reason: "unknown endpoint"}
	}
	switch a.Subscription {
	case Notify:
		return append([]byte(nil), notifyEnable[:]...), nil
	case Indicate:
		return append([]byte(nil), indicateEnable[:]...), nil
	default:
		return nil, &ConfigurationError{Field: "subscription", Value: e, Reason: "endpoint does not support updates"}
	}
}

// Subscription is a configuration write enabling updates for one endpoint.
type Subscription struct {
	Endpoint     Endpoint
	ConfigHandle Handle
	Payload      []byte
}

func (s Subscription) String() string {
	return fmt.Sprintf("%s@%s=%x", s.Endpoint, s.ConfigHandle, s.Payload)
}

// SubscriptionFor resolves the configuration write for endpoint e.
func SubscriptionFor(e Endpoint) (Subscription, error) {
	payload, err := EncodeSubscribe(e)
	if err != nil {
		return Subscription{}, err
	}
	return Subscription{Endpoint: e, ConfigHandle: byEndpoint[e].ConfigHandle, Payload: payload}, nil
}
