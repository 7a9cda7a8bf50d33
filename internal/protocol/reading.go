package protocol

import "fmt"

// Scaling applied to IMU fixed-point fields.
const (
	QuaternionScale   = 16384.0
	AccelerationScale = 2048.0
	GyroscopeScale    = 16.0
)

// Reading is a decoded notification. The concrete type depends on the endpoint:
// *EmgRawReading, *EmgFilteredReading, *ImuReading, *BatteryReading or *FirmwareReading.
type Reading interface {
	Endpoint() Endpoint
}

// EmgSample is one time step of the eight EMG sensors.
type EmgSample [8]int8

// EmgRawReading carries the two sequential samples the device packs into each
// raw EMG notification. Samples[0] precedes Samples[1].
type EmgRawReading struct {
	Source  Endpoint     `json:"-" cbor:"-"`
	Channel int          `json:"channel" cbor:"1,keyasint"`
	Samples [2]EmgSample `json:"samples" cbor:"2,keyasint"`
}

func (r *EmgRawReading) Endpoint() Endpoint { return r.Source }

func (r *EmgRawReading) String() string {
	return fmt.Sprintf("%v %v", r.Samples[0], r.Samples[1])
}

// EmgFilteredReading carries eight unsigned filtered EMG amplitudes.
type EmgFilteredReading struct {
	Values [8]uint16 `json:"values" cbor:"1,keyasint"`
}

func (r *EmgFilteredReading) Endpoint() Endpoint { return EmgFiltered }

func (r *EmgFilteredReading) String() string {
	return fmt.Sprint(r.Values)
}

// ImuReading carries orientation, acceleration (g) and angular velocity (deg/s).
type ImuReading struct {
	Quaternion   [4]float64 `json:"quaternion" cbor:"1,keyasint"`
	Acceleration [3]float64 `json:"acceleration" cbor:"2,keyasint"`
	Gyroscope    [3]float64 `json:"gyroscope" cbor:"3,keyasint"`
}

func (r *ImuReading) Endpoint() Endpoint { return Imu }

func (r *ImuReading) String() string {
	return fmt.Sprintf("quat=%.4f acc=%.3f gyro=%.2f", r.Quaternion, r.Acceleration, r.Gyroscope)
}

// BatteryReading is the battery level in percent.
type BatteryReading struct {
	Level uint8 `json:"level" cbor:"1,keyasint"`
}

func (r *BatteryReading) Endpoint() Endpoint { return Battery }

func (r *BatteryReading) String() string {
	return fmt.Sprintf("%d%%", r.Level)
}

// FirmwareReading is the firmware version tuple (major, minor, patch, hardware revision).
type FirmwareReading struct {
	Version [4]int16 `json:"version" cbor:"1,keyasint"`
}

func (r *FirmwareReading) Endpoint() Endpoint { return Firmware }

func (r *FirmwareReading) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", r.Version[0], r.Version[1], r.Version[2], r.Version[3])
}
