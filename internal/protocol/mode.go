package protocol

import (
	"fmt"
	"strings"
)

// EmgMode selects how the device streams EMG data.
type EmgMode uint8

const (
	EmgModeOff           EmgMode = 0x00
	EmgModeFiltered      EmgMode = 0x01
	EmgModeRaw           EmgMode = 0x02
	EmgModeRawUnfiltered EmgMode = 0x03
)

// ImuMode selects which IMU data the device streams.
type ImuMode uint8

const (
	ImuModeOff    ImuMode = 0x00
	ImuModeData   ImuMode = 0x01
	ImuModeEvents ImuMode = 0x02
	ImuModeAll    ImuMode = 0x03
	ImuModeRaw    ImuMode = 0x04
)

// ClassifierMode toggles the on-board gesture classifier.
type ClassifierMode uint8

const (
	ClassifierModeOff ClassifierMode = 0x00
	ClassifierModeOn  ClassifierMode = 0x01
)

var (
	emgModeNames        = []string{"off", "filt", "raw", "raw-unfilt"}
	imuModeNames        = []string{"off", "data", "events", "all", "raw"}
	classifierModeNames = []string{"off", "on"}
)

func (m EmgMode) Valid() bool        { return int(m) < len(emgModeNames) }
func (m ImuMode) Valid() bool        { return int(m) < len(imuModeNames) }
func (m ClassifierMode) Valid() bool { return int(m) < len(classifierModeNames) }

func (m EmgMode) String() string        { return modeName(emgModeNames, uint8(m)) }
func (m ImuMode) String() string        { return modeName(imuModeNames, uint8(m)) }
func (m ClassifierMode) String() string { return modeName(classifierModeNames, uint8(m)) }

func modeName(names []string, v uint8) string {
	if int(v) < len(names) {
		return names[v]
	}
	return fmt.Sprintf("invalid(0x%02x)", v)
}

func parseMode(field string, names []string, s string) (uint8, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range names {
		if n == s {
			return uint8(i), nil
		}
	}
	return 0, &ConfigurationError{Field: field, Value: s, Reason: "must be one of " + strings.Join(names, ", ")}
}

// ParseEmgMode resolves an EMG mode by name.
func ParseEmgMode(s string) (EmgMode, error) {
	v, err := parseMode("emg mode", emgModeNames, s)
	return EmgMode(v), err
}

// ParseImuMode resolves an IMU mode by name.
func ParseImuMode(s string) (ImuMode, error) {
	v, err := parseMode("imu mode", imuModeNames, s)
	return ImuMode(v), err
}

// ParseClassifierMode resolves a classifier mode by name.
func ParseClassifierMode(s string) (ClassifierMode, error) {
	v, err := parseMode("classifier mode", classifierModeNames, s)
	return ClassifierMode(v), err
}

// OperatingMode is the full device streaming configuration.
type OperatingMode struct {
	Emg        EmgMode        `json:"emg" yaml:"emg"`
	Imu        ImuMode        `json:"imu" yaml:"imu"`
	Classifier ClassifierMode `json:"classifier" yaml:"classifier"`
}

// Validate rejects modes outside their enumerations.
func (m OperatingMode) Validate() error {
	if !m.Emg.Valid() {
		return &ConfigurationError{Field: "emg mode", Value: uint8(m.Emg), Reason: "out of range"}
	}
	if !m.Imu.Valid() {
		return &ConfigurationError{Field: "imu mode", Value: uint8(m.Imu), Reason: "out of range"}
	}
	if !m.Classifier.Valid() {
		return &ConfigurationError{Field: "classifier mode", Value: uint8(m.Classifier), Reason: "out of range"}
	}
	return nil
}

func (m OperatingMode) String() string {
	return fmt.Sprintf("emg=%s imu=%s classifier=%s", m.Emg, m.Imu, m.Classifier)
}
