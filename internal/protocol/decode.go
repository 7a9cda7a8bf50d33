package protocol

import "encoding/binary"

// Payload lengths of the decodable endpoints.
const (
	EmgRawPayloadSize      = 16
	EmgFilteredPayloadSize = 16
	ImuPayloadSize         = 20
	BatteryPayloadSize     = 1
	FirmwarePayloadSize    = 8
)

// Decode parses a notification or read payload received from endpoint e.
// It never panics; malformed input is reported as a *DecodeError.
func Decode(e Endpoint, data []byte) (Reading, error) {
	switch {
	case e.IsEmgRaw():
		return decodeEmgRaw(e, data)
	case e == EmgFiltered:
		return decodeEmgFiltered(data)
	case e == Imu:
		return decodeImu(data)
	case e == Battery:
		return decodeBattery(data)
	case e == Firmware:
		return decodeFirmware(data)
	default:
		return nil, &DecodeError{Kind: UnsupportedEndpoint, Endpoint: e, Actual: len(data)}
	}
}

// DecodeHandle resolves h through the attribute map and decodes data.
// Configuration handles and unknown handles are unsupported.
func DecodeHandle(h Handle, data []byte) (Reading, error) {
	a, role, ok := Lookup(h)
	if !ok || role != ValueRole {
		return nil, &DecodeError{Kind: UnsupportedEndpoint, Endpoint: Unrecognized, Actual: len(data)}
	}
	return Decode(a.Endpoint, data)
}

func checkSize(e Endpoint, data []byte, size int) error {
	if len(data) != size {
		return &DecodeError{Kind: MalformedPayload, Endpoint: e, Expected: size, Actual: len(data)}
	}
	return nil
}

func decodeEmgRaw(e Endpoint, data []byte) (Reading, error) {
	if err := checkSize(e, data, EmgRawPayloadSize); err != nil {
		return nil, err
	}
	r := &EmgRawReading{Source: e, Channel: e.EmgChannel()}
	for i := 0; i < 8; i++ {
		r.Samples[0][i] = int8(data[i])
		r.Samples[1][i] = int8(data[8+i])
	}
	return r, nil
}

func decodeEmgFiltered(data []byte) (Reading, error) {
	if err := checkSize(EmgFiltered, data, EmgFilteredPayloadSize); err != nil {
		return nil, err
	}
	r := &EmgFilteredReading{}
	for i := range r.Values {
		r.Values[i] = binary.LittleEndian.Uint16(data[2*i:])
	}
	return r, nil
}

func decodeImu(data []byte) (Reading, error) {
	if err := checkSize(Imu, data, ImuPayloadSize); err != nil {
		return nil, err
	}
	var v [10]int16
	for i := range v {
		v[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
	}
	r := &ImuReading{}
	for i := 0; i < 4; i++ {
		r.Quaternion[i] = float64(v[i]) / QuaternionScale
	}
	for i := 0; i < 3; i++ {
		r.Acceleration[i] = float64(v[4+i]) / AccelerationScale
		r.Gyroscope[i] = float64(v[7+i]) / GyroscopeScale
	}
	return r, nil
}

func decodeBattery(data []byte) (Reading, error) {
	if err := checkSize(Battery, data, BatteryPayloadSize); err != nil {
		return nil, err
	}
	return &BatteryReading{Level: data[0]}, nil
}

func decodeFirmware(data []byte) (Reading, error) {
	if err := checkSize(Firmware, data, FirmwarePayloadSize); err != nil {
		return nil, err
	}
	r := &FirmwareReading{}
	for i := range r.Version {
		r.Version[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
	}
	return r, nil
}
