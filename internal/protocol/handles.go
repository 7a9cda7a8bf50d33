package protocol

import "fmt"

// Handle is a GATT attribute handle assigned by the device.
type Handle uint16

func (h Handle) String() string {
	return fmt.Sprintf("0x%02x", uint16(h))
}

// Attribute handles exposed by the device GATT server.
const (
	BatteryHandle       Handle = 0x11
	BatteryConfigHandle Handle = 0x12
	FirmwareHandle      Handle = 0x17
	CommandHandle       Handle = 0x19

	ImuHandle       Handle = 0x1c
	ImuConfigHandle Handle = 0x1d

	ClassifierHandle       Handle = 0x23
	ClassifierConfigHandle Handle = 0x24

	EmgFilteredHandle       Handle = 0x27
	EmgFilteredConfigHandle Handle = 0x28

	EmgRaw0Handle       Handle = 0x2b
	EmgRaw0ConfigHandle Handle = 0x2c
	EmgRaw1Handle       Handle = 0x2e
	EmgRaw1ConfigHandle Handle = 0x2f
	EmgRaw2Handle       Handle = 0x31
	EmgRaw2ConfigHandle Handle = 0x32
	EmgRaw3Handle       Handle = 0x34
	EmgRaw3ConfigHandle Handle = 0x35
)

// Endpoint identifies what a handle means to the protocol.
type Endpoint uint8

const (
	Unrecognized Endpoint = iota
	Firmware
	Battery
	Command
	EmgRaw0
	EmgRaw1
	EmgRaw2
	EmgRaw3
	EmgFiltered
	Imu
	Classifier
	LedControl
)

var endpointNames = [...]string{
	Unrecognized: "unrecognized",
	Firmware:     "firmware",
	Battery:      "battery",
	Command:      "command",
	EmgRaw0:      "emg-raw-0",
	EmgRaw1:      "emg-raw-1",
	EmgRaw2:      "emg-raw-2",
	EmgRaw3:      "emg-raw-3",
	EmgFiltered:  "emg-filtered",
	Imu:          "imu",
	Classifier:   "classifier",
	LedControl:   "led-control",
}

func (e Endpoint) String() string {
	if int(e) < len(endpointNames) {
		return endpointNames[e]
	}
	return fmt.Sprintf("endpoint(%d)", uint8(e))
}

// MarshalText encodes the endpoint by name.
func (e Endpoint) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText parses an endpoint name produced by MarshalText.
func (e *Endpoint) UnmarshalText(text []byte) error {
	ep, err := ParseEndpoint(string(text))
	if err != nil {
		return err
	}
	*e = ep
	return nil
}

// ParseEndpoint resolves an endpoint by name. Unrecognized is never returned
// without an error.
func ParseEndpoint(name string) (Endpoint, error) {
	for i, n := range endpointNames {
		if i != int(Unrecognized) && n == name {
			return Endpoint(i), nil
		}
	}
	return Unrecognized, &ConfigurationError{Field: "endpoint", Value: name, Reason: "unknown endpoint"}
}

// IsEmgRaw reports whether e is one of the four raw EMG channels.
func (e Endpoint) IsEmgRaw() bool {
	return e >= EmgRaw0 && e <= EmgRaw3
}

// EmgChannel returns the zero-based raw EMG channel, or -1 when e is not a raw EMG endpoint.
func (e Endpoint) EmgChannel() int {
	if !e.IsEmgRaw() {
		return -1
	}
	return int(e - EmgRaw0)
}

// SubscriptionKind is the client characteristic configuration mechanism of an attribute.
type SubscriptionKind uint8

const (
	NoSubscription SubscriptionKind = iota
	Notify
	Indicate
)

func (k SubscriptionKind) String() string {
	switch k {
	case Notify:
		return "notify"
	case Indicate:
		return "indicate"
	default:
		return "none"
	}
}

// Role tells whether a handle carries an attribute value or its configuration descriptor.
type Role uint8

const (
	ValueRole Role = iota
	ConfigRole
)

// Attribute describes one endpoint of the device.
type Attribute struct {
	Endpoint     Endpoint
	Handle       Handle
	ConfigHandle Handle // zero when the attribute cannot be subscribed
	Subscription SubscriptionKind
}

// attributes is ordered by handle.
var attributes = []Attribute{
	{Endpoint: Battery, Handle: BatteryHandle, ConfigHandle: BatteryConfigHandle, Subscription: Notify},
	{Endpoint: Firmware, Handle: FirmwareHandle},
	{Endpoint: Command, Handle: CommandHandle},
	{Endpoint: Imu, Handle: ImuHandle, ConfigHandle: ImuConfigHandle, Subscription: Notify},
	{Endpoint: Classifier, Handle: ClassifierHandle, ConfigHandle: ClassifierConfigHandle, Subscription: Indicate},
	{Endpoint: EmgFiltered, Handle: EmgFilteredHandle, ConfigHandle: EmgFilteredConfigHandle, Subscription: Notify},
	{Endpoint: EmgRaw0, Handle: EmgRaw0Handle, ConfigHandle: EmgRaw0ConfigHandle, Subscription: Notify},
	{Endpoint: EmgRaw1, Handle: EmgRaw1Handle, ConfigHandle: EmgRaw1ConfigHandle, Subscription: Notify},
	{Endpoint: EmgRaw2, Handle: EmgRaw2Handle, ConfigHandle: EmgRaw2ConfigHandle, Subscription: Notify},
	{Endpoint: EmgRaw3, Handle: EmgRaw3Handle, ConfigHandle: EmgRaw3ConfigHandle, Subscription: Notify},
}

type handleEntry struct {
	attr Attribute
	role Role
}

var (
	byHandle   = map[Handle]handleEntry{}
	byEndpoint = map[Endpoint]Attribute{}
)

func init() {
	for _, a := range attributes {
		if _, dup := byHandle[a.Handle]; dup {
			panic(fmt.Sprintf("protocol: duplicate handle %s", a.Handle))
		}
		byHandle[a.Handle] = handleEntry{attr: a, role: ValueRole}
		if a.ConfigHandle != 0 {
			if _, dup := byHandle[a.ConfigHandle]; dup {
				panic(fmt.Sprintf("protocol: duplicate handle %s", a.ConfigHandle))
			}
			byHandle[a.ConfigHandle] = handleEntry{attr: a, role: ConfigRole}
		}
		byEndpoint[a.Endpoint] = a
	}
}

// EndpointFor returns the endpoint owning handle h, either as its value or its
// configuration descriptor. Unknown handles yield Unrecognized.
func EndpointFor(h Handle) Endpoint {
	e, ok := byHandle[h]
	if !ok {
		return Unrecognized
	}
	return e.attr.Endpoint
}

// Lookup returns the attribute owning h and the role h plays in it.
func Lookup(h Handle) (Attribute, Role, bool) {
	e, ok := byHandle[h]
	return e.attr, e.role, ok
}

// AttributeOf returns the attribute describing endpoint e.
// LedControl resolves to the command attribute it is written through.
func AttributeOf(e Endpoint) (Attribute, bool) {
	if e == LedControl {
		a := byEndpoint[Command]
		a.Endpoint = LedControl
		return a, true
	}
	a, ok := byEndpoint[e]
	return a, ok
}

// HandleOf returns the value handle of endpoint e.
func HandleOf(e Endpoint) (Handle, bool) {
	a, ok := AttributeOf(e)
	return a.Handle, ok
}

// Attributes returns the attribute table ordered by handle.
func Attributes() []Attribute {
	out := make([]Attribute, len(attributes))
	copy(out, attributes)
	return out
}

// SubscribableEndpoints lists every endpoint that accepts a subscription, in
// the order configuration writes are issued.
func SubscribableEndpoints() []Endpoint {
	return []Endpoint{Battery, EmgRaw0, EmgRaw1, EmgRaw2, EmgRaw3, EmgFiltered, Imu, Classifier}
}
