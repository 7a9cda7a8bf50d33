package session

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/myoctl/internal/protocol"
)

// Control operations are valid while connected (Connected, Configured or
// Streaming). Outside those states they return device.ErrNotConnected.

// SetLeds sets the logo and bar LED colors.
func (s *Session) SetLeds(logo, bar protocol.RGB) error {
	if _, err := s.connection(); err != nil {
		return err
	}
	s.log().WithFields(logrus.Fields{"logo": logo.String(), "bar": bar.String()}).Debug("Setting LEDs")
	return s.write("write", protocol.CommandHandle, protocol.EncodeSetLeds(logo, bar))
}

// Vibrate runs the vibration motor. Lengths outside 1..3 are ignored and no
// write is issued.
func (s *Session) Vibrate(length int) error {
	if _, err := s.connection(); err != nil {
		return err
	}
	payload, ok := protocol.EncodeVibrate(length)
	if !ok {
		s.log().WithField("length", length).Debug("Vibration length out of range, ignored")
		return nil
	}
	return s.write("write", protocol.CommandHandle, payload)
}

// SetMode writes a new operating mode. Invalid modes are rejected before
// anything is written.
func (s *Session) SetMode(mode protocol.OperatingMode) error {
	payload, err := protocol.EncodeMode(mode)
	if err != nil {
		return err
	}
	if _, err := s.connection(); err != nil {
		return err
	}
	if err := s.write("write", protocol.CommandHandle, payload); err != nil {
		return err
	}

	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()
	s.log().WithField("mode", mode.String()).Info("Operating mode set")
	return nil
}

// ReadBattery reads the battery level.
func (s *Session) ReadBattery() (*protocol.BatteryReading, error) {
	r, err := s.readDecoded(protocol.BatteryHandle, protocol.Battery)
	if err != nil {
		return nil, err
	}
	return r.(*protocol.BatteryReading), nil
}

// ReadFirmware reads the firmware version.
func (s *Session) ReadFirmware() (*protocol.FirmwareReading, error) {
	r, err := s.readDecoded(protocol.FirmwareHandle, protocol.Firmware)
	if err != nil {
		return nil, err
	}
	return r.(*protocol.FirmwareReading), nil
}

func (s *Session) readDecoded(h protocol.Handle, e protocol.Endpoint) (protocol.Reading, error) {
	data, err := s.read(h)
	if err != nil {
		return nil, err
	}
	return protocol.Decode(e, data)
}
