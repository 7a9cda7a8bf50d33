// Package protocol implements the Myo GATT protocol codec.
//
// The package is stateless. It maps attribute handles to endpoints, encodes
// control commands into their fixed byte layouts and decodes notification
// payloads into typed, physically scaled readings.
//
// All multi-byte fields are little-endian.
package protocol
